package synth

import (
	"context"
	"sync"
	"time"

	"github.com/tapscribe/tapscribe/pkg/audio"
)

// Source is an [audio.Source] that plays a script of tone and silence steps,
// paced in real time, looping until stopped. It lets the full pipeline run
// on machines without a capture device.
type Source struct {
	sampleRate int
	frameLen   time.Duration
	script     []Step

	queue *audio.Queue
	errs  chan error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

var _ audio.Source = (*Source)(nil)

// NewSource creates a synthetic source emitting frames of frameLen at
// sampleRate, cycling through script. An empty script plays silence.
func NewSource(sampleRate int, frameLen time.Duration, script []Step) *Source {
	if len(script) == 0 {
		script = []Step{Pause(time.Second)}
	}
	return &Source{
		sampleRate: sampleRate,
		frameLen:   frameLen,
		script:     script,
		queue:      audio.NewQueue(64),
		errs:       make(chan error, 1),
	}
}

// Start implements [audio.Source]. Frame production begins immediately on a
// background goroutine.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

// run emits one frame per tick, walking the rendered script in frame-sized
// slices and wrapping around at the end.
func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	var samples []float32
	for _, st := range s.script {
		samples = append(samples, st.Samples(s.sampleRate)...)
	}
	frameSamples := int(s.frameLen.Seconds() * float64(s.sampleRate))
	if frameSamples <= 0 || len(samples) == 0 {
		return
	}

	ticker := time.NewTicker(s.frameLen)
	defer ticker.Stop()

	var pos int
	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := make([]float32, frameSamples)
			for i := range frame {
				frame[i] = samples[(pos+i)%len(samples)]
			}
			pos = (pos + frameSamples) % len(samples)
			s.queue.Push(audio.Frame{
				Samples:    frame,
				SampleRate: s.sampleRate,
				Timestamp:  elapsed,
			})
			elapsed += s.frameLen
		}
	}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.queue.Frames()
}

// Errs implements [audio.Source]. A synthetic device never fails.
func (s *Source) Errs() <-chan error {
	return s.errs
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.queue.Close()
	return nil
}
