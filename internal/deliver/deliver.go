// Package deliver hands finished transcripts to their destination.
//
// Two destinations are provided: [Writer] prints to a stream (the stdout
// mode), and [Clipboard] copies the text via an external helper, optionally
// following up with a paste keystroke so the transcript lands directly in
// the focused window.
package deliver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// Writer delivers transcripts by writing them, newline-terminated, to an
// underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer delivering to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Deliver writes the text followed by a newline.
func (d *Writer) Deliver(_ context.Context, text string) error {
	if _, err := fmt.Fprintln(d.w, text); err != nil {
		return fmt.Errorf("deliver: write transcript: %w", err)
	}
	return nil
}

// Clipboard delivers transcripts through an external clipboard helper such
// as wl-copy, xclip, xsel, or pbcopy, picked by availability at
// construction time.
type Clipboard struct {
	copyCmd  []string
	pasteCmd []string // empty disables the paste keystroke
}

// ClipboardOption is a functional option for [NewClipboard].
type ClipboardOption func(*Clipboard)

// WithPaste enables a paste keystroke after copying, using the first
// available injection tool for the platform. Paste failures are logged, not
// returned: the text is already on the clipboard at that point.
func WithPaste() ClipboardOption {
	return func(c *Clipboard) {
		c.pasteCmd = firstAvailable(pasteCandidates())
	}
}

// WithCopyCommand overrides the probed copy helper. The transcript is piped
// to the command's stdin.
func WithCopyCommand(cmd []string) ClipboardOption {
	return func(c *Clipboard) { c.copyCmd = cmd }
}

// WithPasteCommand overrides the probed paste helper.
func WithPasteCommand(cmd []string) ClipboardOption {
	return func(c *Clipboard) { c.pasteCmd = cmd }
}

// NewClipboard probes for a clipboard helper and returns a Clipboard
// deliverer. It fails when no helper is installed and none was supplied via
// [WithCopyCommand].
func NewClipboard(opts ...ClipboardOption) (*Clipboard, error) {
	c := &Clipboard{
		copyCmd: firstAvailable(copyCandidates()),
	}
	for _, o := range opts {
		o(c)
	}
	if len(c.copyCmd) == 0 {
		return nil, fmt.Errorf("deliver: no clipboard helper found (tried %s)", candidateNames(copyCandidates()))
	}
	return c, nil
}

// Deliver pipes the text into the copy helper, then fires the paste
// keystroke when one is configured.
func (c *Clipboard) Deliver(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, c.copyCmd[0], c.copyCmd[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("deliver: %s: %w (%s)", c.copyCmd[0], err, bytes.TrimSpace(out))
	}

	if len(c.pasteCmd) > 0 {
		cmd := exec.CommandContext(ctx, c.pasteCmd[0], c.pasteCmd[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			slog.Warn("paste keystroke failed, transcript remains on clipboard",
				"tool", c.pasteCmd[0], "error", err, "output", string(bytes.TrimSpace(out)))
		}
	}
	return nil
}

// copyCandidates lists clipboard copy helpers in preference order for the
// current platform.
func copyCandidates() [][]string {
	switch runtime.GOOS {
	case "darwin":
		return [][]string{{"pbcopy"}}
	default:
		return [][]string{
			{"wl-copy"},
			{"xclip", "-selection", "clipboard"},
			{"xsel", "--clipboard", "--input"},
		}
	}
}

// pasteCandidates lists paste keystroke injectors in preference order.
func pasteCandidates() [][]string {
	switch runtime.GOOS {
	case "darwin":
		return [][]string{{"osascript", "-e", `tell application "System Events" to keystroke "v" using command down`}}
	default:
		return [][]string{
			{"wtype", "-M", "ctrl", "v", "-m", "ctrl"},
			{"xdotool", "key", "--clearmodifiers", "ctrl+v"},
		}
	}
}

func firstAvailable(candidates [][]string) []string {
	for _, cand := range candidates {
		if _, err := exec.LookPath(cand[0]); err == nil {
			return cand
		}
	}
	return nil
}

func candidateNames(candidates [][]string) string {
	names := make([]string, len(candidates))
	for i, cand := range candidates {
		names[i] = cand[0]
	}
	return strings.Join(names, ", ")
}
