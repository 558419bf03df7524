// Package gesture detects the multi-tap activation gesture that toggles
// recording in the tapscribe pipeline.
//
// A [Detector] consumes a stream of key-tap timestamps and reports exactly
// one activation whenever the configured number of taps lands inside the
// sliding window. It is deliberately ignorant of recording state: whether an
// activation starts or stops a session is the session controller's concern,
// so rapid extra taps can never desynchronize the detector from the session
// lifecycle.
package gesture

import (
	"sync"
	"time"
)

const (
	defaultWindow      = 500 * time.Millisecond
	defaultRepeatCount = 3
)

// Detector recognizes runs of taps within a sliding window. Safe for
// concurrent use, though taps are normally delivered by a single input
// goroutine.
type Detector struct {
	mu     sync.Mutex
	window time.Duration
	repeat int

	// taps holds the accepted timestamps of the current (incomplete) run,
	// oldest first. Cleared whenever a run completes.
	taps []time.Time

	// last is the most recently accepted timestamp, used to drop
	// out-of-order events.
	last time.Time
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithWindow sets the sliding-window length. Taps further apart than this
// never belong to the same run. Defaults to 500ms.
func WithWindow(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.window = d
		}
	}
}

// WithRepeatCount sets how many taps complete an activation. Values below 1
// are ignored. Defaults to 3.
func WithRepeatCount(n int) Option {
	return func(det *Detector) {
		if n >= 1 {
			det.repeat = n
		}
	}
}

// New creates a [Detector] with the default triple-tap-in-500ms gesture.
func New(opts ...Option) *Detector {
	d := &Detector{
		window: defaultWindow,
		repeat: defaultRepeatCount,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Observe feeds one tap timestamp into the detector and reports whether this
// tap completed an activation.
//
// A tap at time T completes an activation when the run now holds repeatCount
// taps all inside the inclusive interval [T-window, T]. On activation the
// run is cleared, so a tap contributes to at most one activation and six
// quick taps yield exactly two.
//
// Timestamps must be non-decreasing. A tap older than the most recently
// accepted one is dropped without affecting the run.
func (d *Detector) Observe(at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && at.Before(d.last) {
		return false
	}
	d.last = at

	// Evict taps that slid out of the window. A tap exactly window old still
	// counts, keeping the boundary deterministic.
	cutoff := at.Add(-d.window)
	keep := d.taps[:0]
	for _, t := range d.taps {
		if !t.Before(cutoff) {
			keep = append(keep, t)
		}
	}
	d.taps = append(keep, at)

	if len(d.taps) >= d.repeat {
		d.taps = d.taps[:0]
		return true
	}
	return false
}
