// Package audio defines the capture-side types and interfaces of the
// transcription pipeline.
//
// The two primary abstractions are:
//
//   - [Source] — a continuous capture stream delivering fixed-format [Frame]
//     values from an input device.
//   - [Queue] — the bounded, non-blocking handoff between a capture callback
//     and the pipeline consumer.
//
// Implementations of [Source] are provided by backend-specific adapter
// packages (audio/miniaudio for real devices, audio/synth and audio/mock for
// generated streams). The interface is intentionally narrow to keep the
// session controller decoupled from device details.
//
// This package lives under pkg/ because external code (alternative capture
// backends) is expected to implement [Source].
package audio

import (
	"context"
	"errors"
)

// ErrDeviceLost indicates the capture device disappeared or failed
// mid-stream. It is terminal for the capture stream: the [Source] will close
// its frame channel and no further frames arrive.
var ErrDeviceLost = errors.New("audio: capture device lost")

// Source is a continuous audio capture stream.
//
// Lifecycle: [Source.Start] begins capture, frames arrive on
// [Source.Frames] until [Source.Stop] is called or the device fails. The
// frame channel is closed in both cases; a device failure additionally
// surfaces exactly one terminal error on [Source.Errs] (wrapping
// [ErrDeviceLost] where the cause is device loss).
//
// Implementations must never block frame delivery on a slow consumer.
type Source interface {
	// Start begins continuous capture. The context governs the capture
	// attempt only; once started, capture runs until Stop is called.
	// Returns an error if the device cannot be opened.
	Start(ctx context.Context) error

	// Frames returns the channel of captured frames. The channel is closed
	// when capture ends, whether by Stop or by device failure.
	Frames() <-chan Frame

	// Errs returns the channel carrying at most one terminal capture error.
	Errs() <-chan error

	// Stop halts capture and closes the frame channel. It is safe to call
	// Stop more than once; subsequent calls are no-ops and return nil.
	Stop() error
}
