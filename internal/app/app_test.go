package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tapscribe/tapscribe/internal/app"
	"github.com/tapscribe/tapscribe/internal/config"
	"github.com/tapscribe/tapscribe/internal/history"
	"github.com/tapscribe/tapscribe/internal/observe"
	"github.com/tapscribe/tapscribe/pkg/audio"
	audiomock "github.com/tapscribe/tapscribe/pkg/audio/mock"
	sttmock "github.com/tapscribe/tapscribe/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// testConfig returns a config suitable for wiring the app with doubles: no
// chime playback, no debug server, defaults everywhere else.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Cues = false
	cfg.DebugAddr = ""
	return cfg
}

// deliverStub records delivered transcripts.
type deliverStub struct {
	mu    sync.Mutex
	texts []string
}

func (d *deliverStub) Deliver(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
	return nil
}

func (d *deliverStub) Delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts...)
}

// recorderStub captures history entries in memory.
type recorderStub struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *recorderStub) Record(_ context.Context, e history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorderStub) Ping(context.Context) error { return nil }
func (r *recorderStub) Close() error               { return nil }

func (r *recorderStub) Entries() []history.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.Entry(nil), r.entries...)
}

// loudFrame returns 30ms of clearly-voiced audio at 16kHz.
func loudFrame(i int) audio.Frame {
	samples := make([]float32, 480)
	for j := range samples {
		samples[j] = 0.5
	}
	return audio.Frame{
		Samples:    samples,
		SampleRate: 16000,
		Timestamp:  time.Duration(i) * 30 * time.Millisecond,
	}
}

// tapThree sends one complete activation gesture.
func tapThree(taps chan<- time.Time) {
	for i := 0; i < 3; i++ {
		taps <- time.Now()
	}
}

// waitFor polls cond until it holds or the deadline lapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── construction ─────────────────────────────────────────────────────────────

func TestNew_MissingRecognizer(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource(8)
	providers := &app.Providers{
		Source: func() (audio.Source, error) { return src, nil },
	}

	_, err := app.New(context.Background(), testConfig(), providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHistory(&recorderStub{}),
		app.WithDeliverer(&deliverStub{}),
	)
	if err == nil {
		t.Fatal("New() with no recognizer succeeded, want error")
	}
	if !strings.Contains(err.Error(), "recognizer") {
		t.Errorf("error = %q, want mention of the recognizer", err)
	}
}

func TestNew_WithDoubles(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource(8)
	providers := &app.Providers{
		Recognizer: &sttmock.Provider{Result: "ok"},
		Source:     func() (audio.Source, error) { return src, nil },
		Taps:       make(chan time.Time),
	}

	application, err := app.New(context.Background(), testConfig(), providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHistory(&recorderStub{}),
		app.WithDeliverer(&deliverStub{}),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

// ── run loop ─────────────────────────────────────────────────────────────────

func TestRun_CancelStopsRun(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource(8)
	providers := &app.Providers{
		Recognizer: &sttmock.Provider{Result: "ok"},
		Source:     func() (audio.Source, error) { return src, nil },
		Taps:       make(chan time.Time),
	}

	application, err := app.New(context.Background(), testConfig(), providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHistory(&recorderStub{}),
		app.WithDeliverer(&deliverStub{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}

func TestRun_TapChannelCloseStopsRun(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource(8)
	taps := make(chan time.Time)
	providers := &app.Providers{
		Recognizer: &sttmock.Provider{Result: "ok"},
		Source:     func() (audio.Source, error) { return src, nil },
		Taps:       taps,
	}

	application, err := app.New(context.Background(), testConfig(), providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHistory(&recorderStub{}),
		app.WithDeliverer(&deliverStub{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(context.Background())
	}()

	close(taps)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() after tap channel close = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after tap channel close")
	}
}

func TestRun_FullSession(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Provider{Result: "hello world"}
	src := audiomock.NewSource(64)
	taps := make(chan time.Time)
	recorder := &recorderStub{}
	delivered := &deliverStub{}

	cfg := testConfig()
	providers := &app.Providers{
		Recognizer: rec,
		Source:     func() (audio.Source, error) { return src, nil },
		Taps:       taps,
	}

	application, err := app.New(context.Background(), cfg, providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHistory(recorder),
		app.WithDeliverer(delivered),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Start recording, speak 600ms of voiced audio, stop.
	tapThree(taps)
	for i := 0; i < 20; i++ {
		src.Push(loudFrame(i))
	}
	waitFor(t, "frames to drain", func() bool { return src.Pending() == 0 })
	time.Sleep(50 * time.Millisecond)
	tapThree(taps)

	waitFor(t, "transcript delivery", func() bool { return len(delivered.Delivered()) > 0 })
	if got := delivered.Delivered()[0]; got != "hello world" {
		t.Errorf("delivered transcript = %q, want %q", got, "hello world")
	}
	if rec.CallCount() == 0 {
		t.Error("recognizer was never called")
	}

	waitFor(t, "history entry", func() bool { return len(recorder.Entries()) > 0 })
	entry := recorder.Entries()[0]
	if entry.Text != "hello world" {
		t.Errorf("history entry text = %q, want %q", entry.Text, "hello world")
	}
	if entry.SessionID == "" {
		t.Error("history entry has no session id")
	}
	if entry.Model != "mock" {
		t.Errorf("history entry model = %q, want %q", entry.Model, "mock")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}

// ── shutdown ─────────────────────────────────────────────────────────────────

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource(8)
	providers := &app.Providers{
		Recognizer: &sttmock.Provider{Result: "ok"},
		Source:     func() (audio.Source, error) { return src, nil },
		Taps:       make(chan time.Time),
	}

	application, err := app.New(context.Background(), testConfig(), providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithHistory(&recorderStub{}),
		app.WithDeliverer(&deliverStub{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}
