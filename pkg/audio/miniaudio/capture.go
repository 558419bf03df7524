// Package miniaudio provides the malgo (miniaudio) capture backend for real
// input devices. It implements the audio.Source interface.
//
// The capture callback runs on a miniaudio-owned thread and must return
// quickly; frames are handed to the pipeline through an [audio.Queue], which
// drops the oldest frame under sustained backpressure rather than ever
// blocking the callback.
package miniaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tapscribe/tapscribe/pkg/audio"
)

const (
	defaultFrameLen = 30 * time.Millisecond

	// defaultQueueCapacity bounds the callback-to-consumer handoff. At the
	// default 30 ms frame length this holds roughly 7.5 s of audio, enough
	// to absorb a stalled consumer without dropping speech.
	defaultQueueCapacity = 256
)

// Option is a functional option for configuring a capture [Source].
type Option func(*Source)

// WithDevice selects the capture device whose name contains the given
// substring (case-insensitive). The empty string selects the system default.
func WithDevice(nameSubstring string) Option {
	return func(s *Source) {
		s.deviceName = nameSubstring
	}
}

// WithFrameLen sets the target duration of each delivered frame.
func WithFrameLen(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.frameLen = d
		}
	}
}

// WithQueueCapacity sets the bounded handoff queue size in frames.
func WithQueueCapacity(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.queueCap = n
		}
	}
}

// Source captures mono float32 audio from a real input device.
type Source struct {
	sampleRate int
	frameLen   time.Duration
	deviceName string
	queueCap   int

	queue *audio.Queue
	errs  chan error

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	started bool
	stopped bool

	// closing is set before the device is torn down so the miniaudio stop
	// callback can tell a requested stop from a device loss.
	closing atomic.Bool

	// samplesSeen is written only by the capture callback.
	samplesSeen uint64

	log *slog.Logger
}

var _ audio.Source = (*Source)(nil)

// New creates a capture source for the given sample rate. Capture does not
// begin until [Source.Start].
func New(sampleRate int, opts ...Option) *Source {
	s := &Source{
		sampleRate: sampleRate,
		frameLen:   defaultFrameLen,
		queueCap:   defaultQueueCapacity,
		errs:       make(chan error, 1),
		log:        slog.Default().With("component", "capture"),
	}
	for _, o := range opts {
		o(s)
	}
	s.queue = audio.NewQueue(s.queueCap)
	return s
}

// Start implements [audio.Source]. It opens the configured device and begins
// continuous capture. The context governs the open attempt only.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("miniaudio: capture already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("miniaudio: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(s.frameLen.Milliseconds())
	cfg.Alsa.NoMMap = 1

	if s.deviceName != "" {
		id, err := findCaptureDevice(mctx, s.deviceName)
		if err != nil {
			teardownContext(mctx)
			return err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	onFrames := func(_, input []byte, frameCount uint32) {
		if len(input) != int(frameCount)*4 {
			return
		}
		samples := audio.Float32FromLE(input)
		ts := time.Duration(s.samplesSeen) * time.Second / time.Duration(s.sampleRate)
		s.samplesSeen += uint64(len(samples))
		s.queue.Push(audio.Frame{
			Samples:    samples,
			SampleRate: s.sampleRate,
			Timestamp:  ts,
		})
	}

	// miniaudio invokes the stop callback on every device stop, including
	// the one triggered by our own Uninit. Only an unrequested stop is a
	// device loss.
	onStop := func() {
		if s.closing.Load() {
			return
		}
		s.log.Warn("capture device stopped unexpectedly")
		select {
		case s.errs <- fmt.Errorf("miniaudio: %w", audio.ErrDeviceLost):
		default:
		}
		s.queue.Close()
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: onFrames,
		Stop: onStop,
	})
	if err != nil {
		teardownContext(mctx)
		return fmt.Errorf("miniaudio: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(mctx)
		return fmt.Errorf("miniaudio: start device: %w", err)
	}

	s.mctx = mctx
	s.device = device
	s.started = true
	s.log.Info("capture started",
		"sampleRate", s.sampleRate,
		"frameLen", s.frameLen,
		"device", deviceLabel(s.deviceName),
	)
	return nil
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.queue.Frames()
}

// Errs implements [audio.Source].
func (s *Source) Errs() <-chan error {
	return s.errs
}

// Stop implements [audio.Source]. It halts capture, releases the device, and
// closes the frame channel. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.closing.Store(true)

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		teardownContext(s.mctx)
		s.mctx = nil
	}
	s.queue.Close()

	if dropped := s.queue.Dropped(); dropped > 0 {
		s.log.Warn("capture stopped with dropped frames", "dropped", dropped)
	} else if s.started {
		s.log.Info("capture stopped")
	}
	return nil
}

// Dropped returns the number of frames lost to queue overruns so far.
func (s *Source) Dropped() uint64 {
	return s.queue.Dropped()
}

func teardownContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
