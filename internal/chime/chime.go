// Package chime plays short audible cues at recording boundaries so the
// user knows the microphone went hot without looking at a screen.
//
// Cues are synthesized once at construction and streamed to the default
// playback device on demand. Playback is strictly best-effort: a machine
// with no output device still records fine, so every failure here is logged
// and swallowed.
package chime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tapscribe/tapscribe/internal/session"
	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/audio/synth"
)

var _ session.Cues = (*Player)(nil)

const (
	defaultSampleRate = 48000

	startFreq = 880.0
	stopFreq  = 440.0

	toneDuration  = 120 * time.Millisecond
	toneAmplitude = 0.25

	// fade ramps the tone edges to zero so the cue does not click.
	fade = 10 * time.Millisecond

	// playTimeout caps how long a stuck playback device can hold up the
	// session lifecycle.
	playTimeout = time.Second
)

// Player synthesizes and plays the start and stop cues.
type Player struct {
	sampleRate int
	start      []float32
	stop       []float32
}

// Option is a functional option for [NewPlayer].
type Option func(*Player)

// WithSampleRate overrides the playback sample rate. Defaults to 48kHz.
func WithSampleRate(rate int) Option {
	return func(p *Player) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// NewPlayer creates a Player with its cues rendered: a high tone for
// recording start, a low tone for stop.
func NewPlayer(opts ...Option) *Player {
	p := &Player{sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	p.start = renderCue(startFreq, p.sampleRate)
	p.stop = renderCue(stopFreq, p.sampleRate)
	return p
}

// Started plays the recording-started cue.
func (p *Player) Started(ctx context.Context) { p.play(ctx, p.start) }

// Stopped plays the recording-stopped cue.
func (p *Player) Stopped(ctx context.Context) { p.play(ctx, p.stop) }

// play opens the default playback device, streams one cue, and tears down.
func (p *Player) play(ctx context.Context, cue []float32) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		slog.Warn("chime: init playback context failed", "error", err)
		return
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	pcm := audio.LEFromFloat32(cue)
	var offset int
	done := make(chan struct{})
	var doneOnce sync.Once

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(p.sampleRate)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, pcm[offset:])
			offset += n
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if offset >= len(pcm) {
				doneOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		slog.Warn("chime: init playback device failed", "error", err)
		return
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		slog.Warn("chime: start playback failed", "error", err)
		return
	}

	select {
	case <-done:
		// Let the device drain its final buffer before teardown.
		time.Sleep(20 * time.Millisecond)
	case <-ctx.Done():
	case <-time.After(playTimeout):
		slog.Warn("chime: playback timed out")
	}
}

// renderCue synthesizes one faded tone.
func renderCue(freq float64, rate int) []float32 {
	samples := synth.Tone(freq, toneAmplitude, toneDuration, rate)
	applyFade(samples, rate)
	return samples
}

// applyFade linearly ramps the first and last fade's worth of samples.
func applyFade(samples []float32, rate int) {
	n := int(fade.Seconds() * float64(rate))
	if 2*n > len(samples) {
		n = len(samples) / 2
	}
	for i := 0; i < n; i++ {
		g := float32(i) / float32(n)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
}
