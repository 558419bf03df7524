package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// segmentDumper decorates a recognizer so every segment submitted for
// recognition is also written to a directory as a 16-bit PCM WAV file,
// for listening back to what the segmenter actually cut.
type segmentDumper struct {
	next stt.Provider
	dir  string
}

var _ stt.Provider = (*segmentDumper)(nil)

func newSegmentDumper(next stt.Provider, dir string) (*segmentDumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dump dir: %w", err)
	}
	return &segmentDumper{next: next, dir: dir}, nil
}

func (d *segmentDumper) Name() string { return d.next.Name() }

// Transcribe writes the segment to disk, then delegates. A failed write is
// logged and does not fail the recognition.
func (d *segmentDumper) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	name := fmt.Sprintf("%s-seg%03d.wav", seg.CreatedAt.Format("20060102-150405.000"), seg.Sequence)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, audio.EncodeWAV16(seg.Samples, seg.SampleRate, 1), 0o644); err != nil {
		slog.Warn("failed to dump segment", "path", path, "err", err)
	}
	return d.next.Transcribe(ctx, seg)
}
