// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider wraps a recognition engine — a whisper-server instance, an
// in-process whisper.cpp model, or a cloud API — behind a single blocking
// call: one closed audio segment in, its text out. The dispatcher owns
// timeouts (via ctx) and serializes calls by default; a provider must
// document it is safe for concurrent Transcribe calls before the dispatcher
// may be configured with more than one worker.
//
// This package lives under pkg/ because external code is expected to
// implement [Provider] for additional engines.
package stt

import (
	"context"
	"errors"

	"github.com/tapscribe/tapscribe/pkg/audio"
)

// ErrTimeout marks a recognition call that exceeded its time budget. The
// dispatcher records it as a per-segment failure; it never aborts a session.
var ErrTimeout = errors.New("stt: recognition timed out")

// ErrUnavailable indicates the recognition engine cannot currently serve
// calls (server unreachable, model not loaded). Fallback chains treat it as
// a signal to consult the next provider.
var ErrUnavailable = errors.New("stt: provider unavailable")

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts one closed speech segment to text. It blocks until
	// the engine answers, ctx expires, or the call fails. An empty string
	// with nil error is a valid result (the engine heard nothing usable).
	Transcribe(ctx context.Context, seg audio.Segment) (string, error)

	// Name identifies the backend in logs, metrics, and history records.
	Name() string
}
