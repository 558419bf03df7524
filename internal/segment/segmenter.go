// Package segment turns the raw capture frame stream into closed speech
// segments at natural pause boundaries.
//
// The [Segmenter] is a two-state machine driven by per-frame RMS energy:
//
//  1. Idle: frames below the energy threshold are dropped. The first frame
//     at or above the threshold opens a new segment.
//  2. Accumulating: every frame is appended, voiced or not, so micro-pauses
//     between words survive. A sustained run of sub-threshold frames closes
//     the segment; the trailing silent run itself is cut off the emitted
//     audio.
//
// Cutting only after a sustained silence window keeps sentences whole:
// emitting on every threshold crossing would fragment speech on each
// consonant, while the silence window approximates phrase boundaries and
// bounds worst-case segment latency by its own length.
//
// The Segmenter is not safe for concurrent use. It is designed to run on a
// single consumer goroutine fed from the capture queue, with [Segmenter.Flush]
// called from the same goroutine when the session stops.
package segment

import (
	"time"

	"github.com/tapscribe/tapscribe/pkg/audio"
)

const (
	defaultEnergyThreshold    = 0.015
	defaultSilenceToCut       = 1500 * time.Millisecond
	defaultMinSegmentDuration = 500 * time.Millisecond
	defaultMaxSegmentDuration = 30 * time.Second
)

// Segmenter accumulates voiced audio into segments. Create one per recording
// session so sequence numbers restart at 1.
type Segmenter struct {
	threshold    float64
	silenceToCut time.Duration
	minDuration  time.Duration
	maxDuration  time.Duration

	accumulating bool
	buf          []float32
	rate         int

	// silentSamples counts the samples appended since the last voiced frame.
	// They form the trailing run that is trimmed when the segment closes.
	silentSamples int

	seq int
}

// Option is a functional option for [New].
type Option func(*Segmenter)

// WithEnergyThreshold sets the minimum RMS amplitude considered speech.
// Non-positive values are ignored. Defaults to 0.015.
func WithEnergyThreshold(v float64) Option {
	return func(s *Segmenter) {
		if v > 0 {
			s.threshold = v
		}
	}
}

// WithSilenceToCut sets how much continuous sub-threshold audio closes a
// segment. Non-positive values are ignored. Defaults to 1.5s.
func WithSilenceToCut(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.silenceToCut = d
		}
	}
}

// WithMinSegmentDuration sets the shortest segment worth emitting; anything
// shorter after trailing-silence trimming is discarded as a blip. Defaults
// to 500ms.
func WithMinSegmentDuration(d time.Duration) Option {
	return func(s *Segmenter) {
		if d > 0 {
			s.minDuration = d
		}
	}
}

// WithMaxSegmentDuration force-closes a segment that grows past d, bounding
// buffer memory during uninterrupted speech. Zero disables the cap. Defaults
// to 30s.
func WithMaxSegmentDuration(d time.Duration) Option {
	return func(s *Segmenter) {
		if d >= 0 {
			s.maxDuration = d
		}
	}
}

// New creates a [Segmenter] with the default thresholds.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		threshold:    defaultEnergyThreshold,
		silenceToCut: defaultSilenceToCut,
		minDuration:  defaultMinSegmentDuration,
		maxDuration:  defaultMaxSegmentDuration,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process feeds one frame through the state machine. It returns a closed
// segment when this frame completed one, or nil.
//
// Frames are assumed to share the sample rate of the first frame in each
// segment; the capture source guarantees a fixed format.
func (s *Segmenter) Process(f audio.Frame) *audio.Segment {
	voiced := RMS(f.Samples) >= s.threshold

	if !s.accumulating {
		if !voiced {
			return nil
		}
		s.accumulating = true
		s.rate = f.SampleRate
		s.buf = append(s.buf, f.Samples...)
		s.silentSamples = 0
		return nil
	}

	s.buf = append(s.buf, f.Samples...)
	if voiced {
		s.silentSamples = 0
	} else {
		s.silentSamples += len(f.Samples)
		if s.sampleDuration(s.silentSamples) >= s.silenceToCut {
			return s.close()
		}
	}

	if s.maxDuration > 0 && s.sampleDuration(len(s.buf)) >= s.maxDuration {
		return s.close()
	}
	return nil
}

// Flush closes any in-progress accumulation without requiring the trailing
// silence window, for use when the session stops mid-speech. Returns the
// final segment, or nil when idle or when the partial audio is below the
// minimum duration.
func (s *Segmenter) Flush() *audio.Segment {
	if !s.accumulating {
		return nil
	}
	return s.close()
}

// Emitted returns how many segments this Segmenter has emitted.
func (s *Segmenter) Emitted() int { return s.seq }

// close trims the trailing silent run, applies the minimum-duration filter,
// and resets to Idle. The reset happens whether or not a segment is emitted;
// short blips are dropped, not carried forward.
func (s *Segmenter) close() *audio.Segment {
	keep := len(s.buf) - s.silentSamples
	samples := s.buf[:keep]
	rate := s.rate

	s.accumulating = false
	s.buf = nil
	s.silentSamples = 0
	s.rate = 0

	dur := s.sampleDurationAt(len(samples), rate)
	if dur < s.minDuration {
		return nil
	}

	s.seq++
	return &audio.Segment{
		Sequence:   s.seq,
		Samples:    samples,
		SampleRate: rate,
		Duration:   dur,
		CreatedAt:  time.Now(),
	}
}

func (s *Segmenter) sampleDuration(n int) time.Duration {
	return s.sampleDurationAt(n, s.rate)
}

func (s *Segmenter) sampleDurationAt(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
