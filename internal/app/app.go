// Package app wires all tapscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the gesture/session/report loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithDeliverer, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tapscribe/tapscribe/internal/chime"
	"github.com/tapscribe/tapscribe/internal/config"
	"github.com/tapscribe/tapscribe/internal/deliver"
	"github.com/tapscribe/tapscribe/internal/dispatch"
	"github.com/tapscribe/tapscribe/internal/gesture"
	"github.com/tapscribe/tapscribe/internal/health"
	"github.com/tapscribe/tapscribe/internal/history"
	"github.com/tapscribe/tapscribe/internal/observe"
	"github.com/tapscribe/tapscribe/internal/resilience"
	"github.com/tapscribe/tapscribe/internal/segment"
	"github.com/tapscribe/tapscribe/internal/session"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// Providers holds the externally supplied collaborators of the pipeline.
// Populated by main.go from the config (recognizers via the registry).
type Providers struct {
	// Recognizer is the primary speech-to-text backend. Required.
	Recognizer stt.Provider

	// Fallback is consulted when the primary fails or its circuit breaker
	// is open. Nil means no fallback is configured.
	Fallback stt.Provider

	// Source opens the capture device for each recording session. Required.
	Source session.SourceFactory

	// Taps delivers key-tap timestamps from the input-device collaborator.
	// Required by Run; closing the channel stops the application.
	Taps <-chan time.Time
}

// HistoryStore is the slice of [history.Store] behaviour the app records
// through, split out so tests can capture entries in memory.
type HistoryStore interface {
	Record(ctx context.Context, e history.Entry) error
	Ping(ctx context.Context) error
	Close() error
}

// App owns all subsystem lifetimes and orchestrates the tapscribe pipeline.
type App struct {
	cfg       *config.Config
	cfgSource func() *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics    *observe.Metrics
	chain      *resilience.Chain
	recognizer stt.Provider
	history    HistoryStore
	deliverer  session.Deliverer
	cues       session.Cues
	controller *session.Controller
	checks     *health.Handler
	debug      *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithConfigSource makes per-session tuning (gesture, segmenter, dispatcher)
// read from src instead of the config passed to New, so a reloading watcher
// can feed new values into sessions started after a change.
func WithConfigSource(src func() *config.Config) Option {
	return func(a *App) {
		if src != nil {
			a.cfgSource = src
		}
	}
}

// WithMetrics injects a metrics bundle instead of initialising the OTel SDK.
// Tests use this to leave the global providers and the default Prometheus
// registry untouched.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHistory injects a history store instead of opening one from config.
func WithHistory(h HistoryStore) Option {
	return func(a *App) { a.history = h }
}

// WithDeliverer injects a transcript deliverer instead of creating one from
// the configured delivery mode.
func WithDeliverer(d session.Deliverer) Option {
	return func(a *App) { a.deliverer = d }
}

// WithCues injects a cue player instead of creating the chime player.
func WithCues(c session.Cues) Option {
	return func(a *App) { a.cues = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (recognizers built via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: telemetry setup, fallback
// chain assembly, history store opening, delivery selection, and session
// controller construction. Observability comes first so every later
// subsystem binds its instruments to the real meter provider.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	a.cfgSource = func() *config.Config { return cfg }
	for _, o := range opts {
		o(a)
	}

	// ── 1. Observability ─────────────────────────────────────────────────
	if err := a.initObserve(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 2. Recognizer chain ──────────────────────────────────────────────
	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 3. History store ─────────────────────────────────────────────────
	if err := a.initHistory(); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 4. Delivery ──────────────────────────────────────────────────────
	if err := a.initDelivery(); err != nil {
		return nil, fmt.Errorf("app: init delivery: %w", err)
	}

	// ── 5. Cues ──────────────────────────────────────────────────────────
	a.initCues()

	// ── 6. Session controller ────────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init session controller: %w", err)
	}

	// ── 7. Health + debug server ─────────────────────────────────────────
	a.initHealth()
	a.initDebug()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObserve sets up the OTel SDK and binds the metrics bundle. Must run
// before anything calls [observe.DefaultMetrics], or the instruments attach
// to the no-op provider.
func (a *App) initObserve(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "tapscribe",
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(flushCtx)
	})

	a.metrics = observe.DefaultMetrics()
	return nil
}

// initRecognizer assembles the failover chain around the supplied backends
// and, when configured, wraps it so every segment is also dumped as WAV.
func (a *App) initRecognizer() error {
	if a.providers == nil || a.providers.Recognizer == nil {
		return errors.New("a primary recognizer is required")
	}

	a.chain = resilience.NewChain(
		observe.InstrumentProvider(a.providers.Recognizer, a.metrics),
		resilience.CircuitBreakerConfig{},
	)
	if a.providers.Fallback != nil {
		a.chain.AddFallback(observe.InstrumentProvider(a.providers.Fallback, a.metrics))
	}
	a.recognizer = a.chain

	if dir := a.cfg.SegmentDumpDir; dir != "" {
		d, err := newSegmentDumper(a.recognizer, dir)
		if err != nil {
			return err
		}
		a.recognizer = d
		slog.Info("segment dump enabled", "dir", dir)
	}
	return nil
}

// initHistory opens the transcript history store. An empty path disables
// history entirely.
func (a *App) initHistory() error {
	if a.history != nil {
		return nil
	}
	path := a.cfg.History.Path
	if path == "" {
		slog.Info("history disabled")
		return nil
	}

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, store.Close)
	slog.Info("history store opened", "path", path)
	return nil
}

// initDelivery creates the transcript deliverer for the configured mode.
func (a *App) initDelivery() error {
	if a.deliverer != nil {
		return nil
	}

	switch a.cfg.Delivery.Mode {
	case config.DeliverStdout:
		a.deliverer = deliver.NewWriter(os.Stdout)
	case config.DeliverClipboard:
		var opts []deliver.ClipboardOption
		if a.cfg.Delivery.Paste {
			opts = append(opts, deliver.WithPaste())
		}
		cb, err := deliver.NewClipboard(opts...)
		if err != nil {
			return err
		}
		a.deliverer = cb
	default:
		return fmt.Errorf("unknown delivery mode %q", a.cfg.Delivery.Mode)
	}
	return nil
}

// initCues creates the chime player unless cues are disabled or injected.
func (a *App) initCues() {
	if a.cues == nil && a.cfg.Cues {
		a.cues = chime.NewPlayer()
	}
}

// initController builds the session controller. The segmenter and dispatcher
// factories read tuning from the config source at session start, so a config
// reload applies to the next recording without restart.
func (a *App) initController() error {
	ctl, err := session.New(session.Config{
		Source:        a.providers.Source,
		NewSegmenter:  a.newSegmenter,
		NewDispatcher: a.newDispatcher,
		Deliverer:     a.deliverer,
		Cues:          &recordingCues{metrics: a.metrics, next: a.cues},
		DrainTimeout:  a.cfg.Dispatcher.DrainTimeout.Std(),
	})
	if err != nil {
		return err
	}
	a.controller = ctl
	return nil
}

func (a *App) newSegmenter() *segment.Segmenter {
	c := a.cfgSource().Segmenter
	return segment.New(
		segment.WithEnergyThreshold(c.EnergyThreshold),
		segment.WithSilenceToCut(c.SilenceToCut.Std()),
		segment.WithMinSegmentDuration(c.MinSegmentDuration.Std()),
		segment.WithMaxSegmentDuration(c.MaxSegmentDuration.Std()),
	)
}

func (a *App) newDispatcher(ctx context.Context) *dispatch.Dispatcher {
	c := a.cfgSource().Dispatcher
	return dispatch.New(ctx, a.recognizer,
		dispatch.WithWorkers(c.MaxConcurrentRecognitions),
		dispatch.WithRecognitionTimeout(c.RecognitionTimeout.Std()),
		dispatch.WithFailedSegmentMarker(c.FailedSegmentMarker),
	)
}

// initHealth registers readiness checks for the recognizer chain and, when
// enabled, the history store.
func (a *App) initHealth() {
	checks := []health.Checker{health.Ping("recognizer", a.chain)}
	if a.history != nil {
		checks = append(checks, health.Ping("history", a.history))
	}
	a.checks = health.New(checks...)
}

// initDebug prepares the debug HTTP server when an address is configured.
// The server itself is started by Run.
func (a *App) initDebug() {
	if a.cfg.DebugAddr == "" {
		return
	}

	mux := http.NewServeMux()
	a.checks.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.debug = &http.Server{
		Addr:              a.cfg.DebugAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline loops and blocks until ctx is cancelled or the tap
// channel closes. The run group holds the gesture pump, the session
// controller, the report consumer, and the debug server when configured.
//
// When ctx is done, Run returns context.Canceled (or the underlying cause).
// A closed tap channel shuts the whole group down and returns nil.
func (a *App) Run(ctx context.Context) error {
	if a.providers.Taps == nil {
		return errors.New("app: run: a tap channel is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	activations := make(chan struct{})

	// ── Gesture pump ─────────────────────────────────────────────────────
	g.Go(func() error {
		return a.pumpTaps(ctx, activations)
	})

	// ── Session controller ───────────────────────────────────────────────
	g.Go(func() error {
		// The controller is the application's main loop: when it ends, the
		// remaining goroutines have nothing left to serve.
		defer cancel()
		return a.controller.Run(ctx, activations)
	})

	// ── Report consumer ──────────────────────────────────────────────────
	g.Go(func() error {
		a.consumeReports(ctx)
		return nil
	})

	// ── Debug server ─────────────────────────────────────────────────────
	if a.debug != nil {
		g.Go(func() error {
			slog.Info("debug server listening", "addr", a.debug.Addr)
			if err := a.debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: debug server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer stopCancel()
			if err := a.debug.Shutdown(stopCtx); err != nil {
				return a.debug.Close()
			}
			return nil
		})
	}

	slog.Info("app running",
		"recognizer", a.chain.Name(),
		"delivery", a.cfg.Delivery.Mode,
		"history", a.history != nil,
	)

	return g.Wait()
}

// pumpTaps feeds tap timestamps through the gesture detector and forwards
// activations to the session controller. The detector is rebuilt when the
// config source yields a new snapshot; a reload resets any half-completed
// run, which is harmless at human tap speeds.
func (a *App) pumpTaps(ctx context.Context, activations chan<- struct{}) error {
	cfg := a.cfgSource()
	det := newDetector(cfg.Gesture)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case at, ok := <-a.providers.Taps:
			if !ok {
				close(activations)
				return nil
			}
			if cur := a.cfgSource(); cur != cfg {
				cfg = cur
				det = newDetector(cfg.Gesture)
				slog.Debug("gesture detector rebuilt after config reload",
					"window", cfg.Gesture.Window.Std(),
					"repeat_count", cfg.Gesture.RepeatCount)
			}
			if det.Observe(at) {
				select {
				case activations <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func newDetector(c config.GestureConfig) *gesture.Detector {
	return gesture.New(
		gesture.WithWindow(c.Window.Std()),
		gesture.WithRepeatCount(c.RepeatCount),
	)
}

// consumeReports drains session reports into metrics and history until ctx
// is done.
func (a *App) consumeReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep := <-a.controller.Reports():
			a.handleReport(ctx, rep)
		}
	}
}

// handleReport turns one session report into metric updates and, for a
// completed session with text, a history row.
func (a *App) handleReport(ctx context.Context, rep session.Report) {
	a.metrics.AddSegmentsEmitted(ctx, int64(rep.SegmentsEmitted))
	if rep.FramesDropped > 0 {
		a.metrics.AddFramesDropped(ctx, int64(rep.FramesDropped))
	}

	outcome := "completed"
	switch {
	case rep.Aborted:
		outcome = "aborted"
	case rep.Transcript == "":
		outcome = "empty"
	}
	a.metrics.RecordSession(ctx, outcome, rep.RecordingDuration)

	if a.history == nil || rep.Aborted || rep.Transcript == "" {
		return
	}

	// The write proceeds even when a shutdown signal raced the report: the
	// last transcript of a run belongs in history too.
	err := a.history.Record(context.WithoutCancel(ctx), history.Entry{
		Timestamp: time.Now(),
		Text:      rep.Transcript,
		Model:     a.chain.Name(),
		Duration:  rep.RecordingDuration,
		Language:  a.cfg.Recognizer.Language,
		SessionID: rep.SessionID,
	})
	if err != nil {
		slog.Warn("failed to record history entry", "session_id", rep.SessionID, "err", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// recordingCues wraps the configured cue player so session boundaries always
// update the recording metrics, with or without audible feedback.
type recordingCues struct {
	metrics *observe.Metrics
	next    session.Cues // nil when cues are disabled
}

var _ session.Cues = (*recordingCues)(nil)

func (c *recordingCues) Started(ctx context.Context) {
	c.metrics.RecordingStarted(ctx)
	if c.next != nil {
		c.next.Started(ctx)
	}
}

func (c *recordingCues) Stopped(ctx context.Context) {
	c.metrics.RecordingStopped(ctx)
	if c.next != nil {
		c.next.Stopped(ctx)
	}
}
