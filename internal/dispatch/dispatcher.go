// Package dispatch feeds closed audio segments to a speech recognizer and
// reassembles the results in segment order.
//
// Segments enter a FIFO queue and are consumed by a fixed pool of workers,
// one by default. A single worker keeps recognition strictly serial, which
// preserves arrival order on the provider and avoids overloading a local
// inference server; raising the pool size trades that for throughput when
// the provider handles concurrency well. Results are keyed by segment
// sequence number, so the final transcript is assembled in original speech
// order no matter which recognition calls finish first.
//
// A Dispatcher lives for exactly one recording session: the session
// controller submits segments while recording, then calls
// [Dispatcher.DrainAndJoin] once on stop. Submit and DrainAndJoin must be
// driven from the same goroutine; only the result queries are safe to call
// concurrently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

const (
	// defaultQueueDepth bounds how many closed segments can wait for a
	// worker before Submit blocks. At one segment per spoken phrase this
	// absorbs minutes of backlog.
	defaultQueueDepth = 64

	defaultRecognitionTimeout = 30 * time.Second
)

// ErrClosed is returned by [Dispatcher.Submit] after the intake has been
// closed by [Dispatcher.DrainAndJoin].
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Result is the outcome of recognizing one segment. Err is nil on success;
// a recognition call that exceeded its budget carries an error wrapping
// [stt.ErrTimeout].
type Result struct {
	Sequence int
	Text     string
	Err      error
	Elapsed  time.Duration
}

// Dispatcher owns segments from submission until their result is produced.
type Dispatcher struct {
	provider stt.Provider
	workers  int
	timeout  time.Duration
	marker   string

	queueDepth int
	queue      chan audio.Segment
	wg         sync.WaitGroup

	mu      sync.Mutex
	order   []int          // sequence numbers in submission order
	results map[int]Result // keyed by sequence number
	closed  bool
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithWorkers sets the size of the recognition pool. Values below 1 are
// ignored. Defaults to 1 (serial recognition).
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.workers = n
		}
	}
}

// WithRecognitionTimeout bounds each recognition call. A segment whose call
// exceeds the budget resolves with an error wrapping [stt.ErrTimeout]. Zero
// disables the per-call budget. Defaults to 30s.
func WithRecognitionTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout >= 0 {
			d.timeout = timeout
		}
	}
}

// WithQueueDepth sets the intake buffer size. Values below 1 are ignored.
func WithQueueDepth(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.queueDepth = n
		}
	}
}

// WithFailedSegmentMarker substitutes the given text for segments whose
// recognition failed or never resolved, e.g. "[inaudible]". When empty
// (the default) such segments are silently omitted from the transcript.
func WithFailedSegmentMarker(marker string) Option {
	return func(d *Dispatcher) { d.marker = marker }
}

// New creates a Dispatcher and starts its worker pool. ctx governs the
// lifetime of in-flight recognition calls: cancelling it makes queued and
// running calls resolve promptly with errors, which is how a session abort
// unblocks the pool.
func New(ctx context.Context, provider stt.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider:   provider,
		workers:    1,
		timeout:    defaultRecognitionTimeout,
		queueDepth: defaultQueueDepth,
		results:    make(map[int]Result),
	}
	for _, o := range opts {
		o(d)
	}
	// Create the queue after options so WithQueueDepth takes effect.
	d.queue = make(chan audio.Segment, d.queueDepth)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return d
}

// Submit queues one segment for recognition. Blocks when the queue is full.
// Returns [ErrClosed] once the intake has been closed.
func (d *Dispatcher) Submit(seg audio.Segment) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.order = append(d.order, seg.Sequence)
	d.mu.Unlock()

	d.queue <- seg
	return nil
}

// DrainAndJoin closes the intake, waits for outstanding recognitions up to
// ctx's deadline, and returns the transcript assembled in sequence order.
//
// Resolved texts are joined with single spaces; failed segments contribute
// the failure marker or nothing. When the budget runs out first, the partial
// transcript is returned together with an error wrapping ctx's cause and
// naming how many segments stayed unresolved; the remaining workers keep
// running in the background until their own per-call budgets expire.
func (d *Dispatcher) DrainAndJoin(ctx context.Context) (string, error) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	workersDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		return d.join(), nil
	case <-ctx.Done():
		submitted, resolved := d.Counts()
		unresolved := submitted - resolved
		return d.join(), fmt.Errorf("dispatch: drain: %d of %d segments unresolved: %w",
			unresolved, submitted, ctx.Err())
	}
}

// Resolved returns results for the contiguous prefix of submitted segments
// whose recognition has finished, in sequence order. The walk stops at the
// first segment still in flight, so callers never observe a gap. Safe to
// call at any time, including after an abort.
func (d *Dispatcher) Resolved() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Result
	for _, seq := range d.order {
		r, ok := d.results[seq]
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

// Counts reports how many segments have been submitted and how many have
// resolved so far.
func (d *Dispatcher) Counts() (submitted, resolved int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order), len(d.results)
}

// worker consumes segments until the intake closes.
func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for seg := range d.queue {
		res := d.recognize(ctx, seg)

		d.mu.Lock()
		d.results[seg.Sequence] = res
		d.mu.Unlock()
	}
}

// recognize runs one recognition call under the per-segment budget. Failures
// resolve the segment locally; they never abort the session.
func (d *Dispatcher) recognize(ctx context.Context, seg audio.Segment) Result {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := d.provider.Transcribe(ctx, seg)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("dispatch: segment %d: %w", seg.Sequence, stt.ErrTimeout)
		} else {
			err = fmt.Errorf("dispatch: segment %d: %w", seg.Sequence, err)
		}
		slog.Warn("segment recognition failed",
			"sequence", seg.Sequence,
			"duration", seg.Duration,
			"elapsed", elapsed,
			"error", err)
		return Result{Sequence: seg.Sequence, Err: err, Elapsed: elapsed}
	}

	slog.Debug("segment recognized",
		"sequence", seg.Sequence,
		"duration", seg.Duration,
		"elapsed", elapsed,
		"chars", len(text))
	return Result{Sequence: seg.Sequence, Text: text, Elapsed: elapsed}
}

// join assembles the transcript from whatever has resolved, in sequence
// order. Failed and unresolved segments contribute the marker when one is
// configured; empty contributions never produce doubled spaces.
func (d *Dispatcher) join() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var parts []string
	for _, seq := range d.order {
		r, ok := d.results[seq]
		switch {
		case !ok || r.Err != nil:
			if d.marker != "" {
				parts = append(parts, d.marker)
			}
		case r.Text != "":
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, " ")
}
