// Package session owns the recording lifecycle of the tapscribe pipeline.
//
// The [Controller] reacts to activation gestures by toggling between three
// states:
//
//	Idle ──activate──▶ Recording ──activate──▶ Draining ──▶ Idle
//
// While Recording, capture frames flow through the segmenter and closed
// segments are submitted to the dispatcher. The stop activation flushes the
// segmenter's partial buffer as a final segment, then Draining waits for
// outstanding recognitions and hands the joined transcript to the delivery
// collaborator. A terminal capture error aborts the session straight back to
// Idle; whatever results had already resolved stay retrievable through the
// session report.
//
// All lifecycle state is confined to the goroutine running [Controller.Run],
// in the style of a single event loop selecting over activations, frames,
// and capture errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapscribe/tapscribe/internal/dispatch"
	"github.com/tapscribe/tapscribe/internal/segment"
	"github.com/tapscribe/tapscribe/pkg/audio"
)

// Default lifecycle parameters.
const (
	defaultDrainTimeout = 60 * time.Second
	defaultReportBuf    = 8

	// deliverTimeout bounds the handoff of a finished transcript so a stuck
	// clipboard helper cannot wedge the controller.
	deliverTimeout = 10 * time.Second
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateDraining
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Deliverer hands a finished transcript to its destination, e.g. the
// clipboard or stdout.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Cues plays audible feedback at recording boundaries. Implementations must
// tolerate being called back-to-back and should return quickly.
type Cues interface {
	Started(ctx context.Context)
	Stopped(ctx context.Context)
}

// SourceFactory opens a fresh capture source for one recording session.
type SourceFactory func() (audio.Source, error)

// Report summarizes one finished or aborted recording session. Reports are
// emitted on [Controller.Reports] after the session returns to Idle.
type Report struct {
	SessionID  string
	Transcript string

	// SegmentsEmitted counts segments submitted to the dispatcher, and
	// SegmentsResolved how many produced a result (including failed ones).
	SegmentsEmitted  int
	SegmentsResolved int

	// FramesDropped counts capture frames lost to queue overruns, when the
	// source reports them.
	FramesDropped uint64

	// RecordingDuration spans activation to stop or abort; it excludes the
	// drain phase.
	RecordingDuration time.Duration

	// Aborted marks a session terminated by an error rather than a stop
	// gesture. AbortReason carries the cause and Partial the results that had
	// resolved, in sequence order, when the abort hit.
	Aborted     bool
	AbortReason error
	Partial     []dispatch.Result
}

// Config wires a [Controller]'s collaborators.
type Config struct {
	// Source opens the capture device for each session. Required.
	Source SourceFactory

	// NewSegmenter builds a fresh segmenter per session so sequence numbers
	// restart at 1. Required.
	NewSegmenter func() *segment.Segmenter

	// NewDispatcher builds a fresh dispatcher per session. The passed context
	// is cancelled when the session ends, releasing any workers still blocked
	// in recognition calls. Required.
	NewDispatcher func(ctx context.Context) *dispatch.Dispatcher

	// Deliverer receives the final transcript of each non-aborted session
	// with non-empty text. Required.
	Deliverer Deliverer

	// Cues plays start/stop feedback tones. Optional.
	Cues Cues

	// DrainTimeout bounds the Draining phase. Defaults to 60s if zero.
	DrainTimeout time.Duration

	// ReportBuf is the capacity of the report channel. Defaults to 8 if zero.
	ReportBuf int
}

// Controller drives recording sessions. Create with [New], then run the
// event loop via [Controller.Run].
type Controller struct {
	cfg Config

	mu    sync.Mutex
	state State

	reports chan Report
}

// New validates cfg and creates a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: Config.Source is required")
	}
	if cfg.NewSegmenter == nil {
		return nil, errors.New("session: Config.NewSegmenter is required")
	}
	if cfg.NewDispatcher == nil {
		return nil, errors.New("session: Config.NewDispatcher is required")
	}
	if cfg.Deliverer == nil {
		return nil, errors.New("session: Config.Deliverer is required")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.ReportBuf <= 0 {
		cfg.ReportBuf = defaultReportBuf
	}
	return &Controller{
		cfg:     cfg,
		state:   StateIdle,
		reports: make(chan Report, cfg.ReportBuf),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reports returns the channel of session reports. Consume it for the
// controller's lifetime; sends block (bounded by the run context) once the
// buffer fills.
func (c *Controller) Reports() <-chan Report {
	return c.reports
}

// Run executes the controller event loop until ctx is cancelled or the
// activation channel closes. Each activation received while Idle starts a
// session; the session's own handling consumes the activation that stops it.
func (c *Controller) Run(ctx context.Context, activations <-chan struct{}) error {
	slog.Info("session controller started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-activations:
			if !ok {
				slog.Info("activation channel closed, session controller stopping")
				return nil
			}
			c.runSession(ctx, activations)
		}
	}
}

// runSession drives one full Recording → Draining → Idle cycle.
func (c *Controller) runSession(ctx context.Context, activations <-chan struct{}) {
	sessionID := uuid.NewString()
	start := time.Now()
	log := slog.With("session_id", sessionID)

	src, err := c.cfg.Source()
	if err != nil {
		log.Error("failed to open capture source", "error", err)
		c.emit(ctx, Report{
			SessionID:   sessionID,
			Aborted:     true,
			AbortReason: fmt.Errorf("session: open capture source: %w", err),
		})
		return
	}

	// sessCtx bounds the dispatcher workers. Cancelled when the session ends
	// so recognitions abandoned by an abort or drain timeout unwind promptly.
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	disp := c.cfg.NewDispatcher(sessCtx)
	seg := c.cfg.NewSegmenter()

	if err := src.Start(ctx); err != nil {
		log.Error("failed to start capture", "error", err)
		c.emit(ctx, Report{
			SessionID:   sessionID,
			Aborted:     true,
			AbortReason: fmt.Errorf("session: start capture: %w", err),
		})
		return
	}

	c.setState(StateRecording, log)
	if c.cfg.Cues != nil {
		c.cfg.Cues.Started(ctx)
	}
	log.Info("recording started")

	abortErr := c.pumpFrames(ctx, activations, src, seg, disp, log)

	if err := src.Stop(); err != nil {
		log.Warn("capture stop failed", "error", err)
	}
	if c.cfg.Cues != nil {
		c.cfg.Cues.Stopped(ctx)
	}

	// Best-effort flush of the partial trailing buffer, on the abort path too.
	if fseg := seg.Flush(); fseg != nil {
		if err := disp.Submit(*fseg); err != nil {
			log.Warn("failed to submit flushed segment", "sequence", fseg.Sequence, "error", err)
		} else {
			log.Debug("flushed final segment", "sequence", fseg.Sequence, "duration", fseg.Duration)
		}
	}

	recorded := time.Since(start)
	submitted, _ := disp.Counts()

	if abortErr != nil {
		partial := disp.Resolved()
		cancel()
		c.setState(StateIdle, log)
		log.Error("session aborted",
			"reason", abortErr,
			"segments", submitted,
			"resolved", len(partial),
			"recorded", recorded)
		c.emit(ctx, Report{
			SessionID:         sessionID,
			SegmentsEmitted:   submitted,
			SegmentsResolved:  len(partial),
			FramesDropped:     droppedFrames(src),
			RecordingDuration: recorded,
			Aborted:           true,
			AbortReason:       abortErr,
			Partial:           partial,
		})
		return
	}

	c.setState(StateDraining, log)
	log.Info("recording stopped, draining", "segments", submitted, "recorded", recorded)

	text := c.drain(ctx, activations, disp, log)
	_, resolved := disp.Counts()

	if text != "" {
		dctx, dcancel := context.WithTimeout(ctx, deliverTimeout)
		if err := c.cfg.Deliverer.Deliver(dctx, text); err != nil {
			log.Error("transcript delivery failed", "error", err)
		} else {
			log.Info("transcript delivered", "chars", len(text), "segments", submitted)
		}
		dcancel()
	} else {
		log.Info("session produced no transcript", "segments", submitted)
	}

	c.setState(StateIdle, log)
	c.emit(ctx, Report{
		SessionID:         sessionID,
		Transcript:        text,
		SegmentsEmitted:   submitted,
		SegmentsResolved:  resolved,
		FramesDropped:     droppedFrames(src),
		RecordingDuration: recorded,
	})
}

// pumpFrames feeds capture frames through the segmenter until the stop
// activation or a terminal capture error. Returns nil on a normal stop and
// the abort reason otherwise.
func (c *Controller) pumpFrames(
	ctx context.Context,
	activations <-chan struct{},
	src audio.Source,
	seg *segment.Segmenter,
	disp *dispatch.Dispatcher,
	log *slog.Logger,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case _, ok := <-activations:
			if !ok {
				log.Info("input closed, treating as stop gesture")
			}
			return nil

		case err := <-src.Errs():
			return fmt.Errorf("session: capture: %w", err)

		case f, ok := <-src.Frames():
			if !ok {
				// The frame stream only closes mid-session when the device
				// failed; pick up the terminal error if one was delivered.
				select {
				case err := <-src.Errs():
					return fmt.Errorf("session: capture: %w", err)
				default:
					return fmt.Errorf("session: capture: %w", audio.ErrDeviceLost)
				}
			}
			if s := seg.Process(f); s != nil {
				if err := disp.Submit(*s); err != nil {
					log.Warn("failed to submit segment", "sequence", s.Sequence, "error", err)
					continue
				}
				log.Debug("segment emitted", "sequence", s.Sequence, "duration", s.Duration)
			}
		}
	}
}

// drain waits for the dispatcher while swallowing activations, which have no
// meaning in the Draining state.
func (c *Controller) drain(
	ctx context.Context,
	activations <-chan struct{},
	disp *dispatch.Dispatcher,
	log *slog.Logger,
) string {
	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()

	type drainResult struct {
		text string
		err  error
	}
	done := make(chan drainResult, 1)
	go func() {
		text, err := disp.DrainAndJoin(drainCtx)
		done <- drainResult{text, err}
	}()

	for {
		select {
		case r := <-done:
			if r.err != nil {
				log.Warn("drain incomplete", "error", r.err)
			}
			return r.text
		case _, ok := <-activations:
			if !ok {
				activations = nil
				continue
			}
			log.Info("activation ignored while draining")
		}
	}
}

// emit delivers a report without wedging the controller when nobody reads.
func (c *Controller) emit(ctx context.Context, rep Report) {
	select {
	case c.reports <- rep:
	case <-ctx.Done():
	}
}

func (c *Controller) setState(s State, log *slog.Logger) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	log.Debug("session state changed", "from", prev.String(), "to", s.String())
}

// droppedFrames queries the source's overrun counter when it exposes one.
func droppedFrames(src audio.Source) uint64 {
	if d, ok := src.(interface{ Dropped() uint64 }); ok {
		return d.Dropped()
	}
	return 0
}
