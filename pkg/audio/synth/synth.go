// Package synth generates audio streams without a capture device. It backs
// the "synthetic" capture backend for machines without a microphone, provides
// the cue tones played on session start/stop, and gives tests a way to build
// deterministic frame streams.
package synth

import (
	"math"
	"time"
)

// Tone synthesizes a mono sine wave at the given frequency and amplitude.
// Amplitude is clamped to [0, 1].
func Tone(freq, amplitude float64, d time.Duration, sampleRate int) []float32 {
	if amplitude < 0 {
		amplitude = 0
	} else if amplitude > 1 {
		amplitude = 1
	}
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]float32, n)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(step*float64(i)))
	}
	return out
}

// Silence returns d worth of zero samples.
func Silence(d time.Duration, sampleRate int) []float32 {
	n := int(d.Seconds() * float64(sampleRate))
	return make([]float32, n)
}

// Step is one element of a synthetic capture script. Freq 0 produces
// silence for Dur; any other value produces a sine tone.
type Step struct {
	Freq      float64
	Amplitude float64
	Dur       time.Duration
}

// Speech returns a script step of audible tone, loud enough to clear any
// reasonable energy threshold.
func Speech(d time.Duration) Step { return Step{Freq: 440, Amplitude: 0.5, Dur: d} }

// Pause returns a silent script step of the given duration.
func Pause(d time.Duration) Step { return Step{Dur: d} }

// Samples renders the step at the given sample rate.
func (s Step) Samples(sampleRate int) []float32 {
	if s.Freq == 0 || s.Amplitude == 0 {
		return Silence(s.Dur, sampleRate)
	}
	return Tone(s.Freq, s.Amplitude, s.Dur, sampleRate)
}
