// Package mock provides an in-memory implementation of the [audio.Source]
// interface for use in unit tests.
//
// The mock is safe for concurrent use. It records call counts so tests can
// assert on lifecycle behaviour, and exposes push helpers so tests can script
// the capture stream.
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	src.Push(audio.Frame{Samples: samples, SampleRate: 16000})
//	src.Stop() // closes the frame channel
package mock

import (
	"context"
	"sync"

	"github.com/tapscribe/tapscribe/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. Create it with
// [NewSource]; drive it with [Source.Push], [Source.Fail], and
// [Source.Stop]; inspect the Call* fields after the test.
type Source struct {
	mu sync.Mutex

	// StartErr is returned by [Source.Start].
	StartErr error

	// StopErr is returned by the first call to [Source.Stop].
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	frames  chan audio.Frame
	errs    chan error
	stopped bool
}

var _ audio.Source = (*Source)(nil)

// NewSource creates a mock source whose frame channel buffers up to buffer
// frames.
func NewSource(buffer int) *Source {
	return &Source{
		frames: make(chan audio.Frame, buffer),
		errs:   make(chan error, 1),
	}
}

// Start implements [audio.Source]. Returns StartErr.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartErr
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Errs implements [audio.Source].
func (s *Source) Errs() <-chan error {
	return s.errs
}

// Stop implements [audio.Source]. The first call closes the frame channel
// and returns StopErr; subsequent calls are no-ops returning nil.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.frames)
	return s.StopErr
}

// Push delivers a frame to the consumer. Blocks if the buffer is full.
// Must not be called after Stop or Fail.
func (s *Source) Push(f audio.Frame) {
	s.frames <- f
}

// Pending reports how many pushed frames the consumer has not yet received.
// Tests use it to wait for the pipeline to catch up before the next step.
func (s *Source) Pending() int {
	return len(s.frames)
}

// Fail simulates a terminal device failure: err is delivered on the error
// channel and the frame channel is closed, mirroring real backend behaviour.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.errs <- err
	close(s.frames)
}
