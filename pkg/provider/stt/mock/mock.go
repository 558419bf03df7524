// Package mock provides a test double for the stt.Provider interface.
//
// Set the exported fields to control return values; inspect TranscribeCalls
// after the test. TranscribeFn, when set, overrides the canned Result/Err
// pair and lets a test resolve calls in a chosen order or block until
// released.
//
// Example:
//
//	p := &mock.Provider{Result: "hello world"}
//	text, err := p.Transcribe(ctx, seg)
package mock

import (
	"context"
	"sync"

	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Seg is the segment passed to Transcribe.
	Seg audio.Segment
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock" when empty.
	NameValue string

	// Result is the text returned by Transcribe when TranscribeFn is nil.
	Result string

	// Err, if non-nil, is returned by Transcribe when TranscribeFn is nil.
	Err error

	// TranscribeFn, when set, is called instead of returning Result/Err.
	// The call is still recorded first.
	TranscribeFn func(ctx context.Context, seg audio.Segment) (string, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call, then returns via TranscribeFn or Result/Err.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Seg: seg})
	fn := p.TranscribeFn
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, seg)
	}
	return result, err
}

// Name returns NameValue, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
