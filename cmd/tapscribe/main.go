// Command tapscribe is the push-to-talk transcription daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/tapscribe/tapscribe/internal/app"
	"github.com/tapscribe/tapscribe/internal/config"
	"github.com/tapscribe/tapscribe/internal/history"
	"github.com/tapscribe/tapscribe/internal/session"
	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/audio/miniaudio"
	"github.com/tapscribe/tapscribe/pkg/audio/synth"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
	"github.com/tapscribe/tapscribe/pkg/provider/stt/deepgram"
	sttmock "github.com/tapscribe/tapscribe/pkg/provider/stt/mock"
	"github.com/tapscribe/tapscribe/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	historyN := flag.Int("history", 0, "print the n most recent transcripts and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	switch {
	case *showVersion:
		fmt.Println(versionString())
		return 0
	case *listDevices:
		return runListDevices()
	case *historyN > 0:
		return runHistory(*configPath, *historyN)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level variable stays adjustable so a config reload can change it.
	lvl := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// ── Load configuration + watcher ──────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, onConfigChange(lvl))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapscribe: %v\n", err)
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	lvl.Set(cfg.LogLevel.Slog())

	slog.Info("tapscribe starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// ── Recognizer registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinRecognizers(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	providers.Taps = readTaps(ctx, os.Stdin)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithConfigSource(watcher.Current))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready — triple-tap Enter to toggle recording, Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ─── Provider wiring ──────────────────────────────────────────────────────────

// registerBuiltinRecognizers wires the recognition backends that ship with
// tapscribe into reg. Each factory reads its own sub-section of the
// recognizer config.
func registerBuiltinRecognizers(reg *config.Registry) {
	reg.RegisterRecognizer("whisper", func(cfg config.RecognizerConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.New(cfg.Whisper.ServerURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(cfg config.RecognizerConfig) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if cfg.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Language))
		}
		return whisper.NewNative(cfg.WhisperNative.ModelPath, opts...)
	})

	reg.RegisterRecognizer("deepgram", func(cfg config.RecognizerConfig) (stt.Provider, error) {
		var opts []deepgram.Option
		if cfg.Deepgram.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Deepgram.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Language))
		}
		return deepgram.New(cfg.Deepgram.APIKey, opts...)
	})

	// mock answers every segment with a canned line; it exists so the whole
	// pipeline can be exercised without a recognition engine installed.
	reg.RegisterRecognizer("mock", func(cfg config.RecognizerConfig) (stt.Provider, error) {
		return &sttmock.Provider{Result: "mock transcript"}, nil
	})
}

// buildProviders instantiates the configured backends using the registry and
// returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateRecognizer(cfg.Recognizer.Provider, cfg.Recognizer)
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Recognizer.Provider, err)
	}
	ps.Recognizer = primary
	slog.Info("recognizer created", "name", cfg.Recognizer.Provider)

	if name := cfg.Recognizer.Fallback; name != "" {
		fallback, err := reg.CreateRecognizer(name, cfg.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("create fallback recognizer %q: %w", name, err)
		}
		ps.Fallback = fallback
		slog.Info("fallback recognizer created", "name", name)
	}

	source, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	ps.Source = source

	return ps, nil
}

// buildSource returns the capture-source factory for the configured backend.
func buildSource(cfg *config.Config) (session.SourceFactory, error) {
	ac := cfg.Audio
	frameLen := time.Duration(ac.FrameMS) * time.Millisecond

	switch ac.Backend {
	case config.BackendMiniaudio:
		return func() (audio.Source, error) {
			opts := []miniaudio.Option{
				miniaudio.WithFrameLen(frameLen),
				miniaudio.WithQueueCapacity(ac.QueueFrames),
			}
			if ac.Device != "" {
				opts = append(opts, miniaudio.WithDevice(ac.Device))
			}
			return miniaudio.New(ac.SampleRate, opts...), nil
		}, nil

	case config.BackendSynthetic:
		// Alternating tone and silence, long enough on both sides to clear
		// the default segmenter thresholds.
		script := []synth.Step{
			synth.Speech(2 * time.Second),
			synth.Pause(2 * time.Second),
		}
		return func() (audio.Source, error) {
			return synth.NewSource(ac.SampleRate, frameLen, script), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown audio backend %q", ac.Backend)
	}
}

// ─── Input ────────────────────────────────────────────────────────────────────

// readTaps converts bytes read from r into tap timestamps: every byte is one
// tap, except that a CRLF pair counts once so cooked and raw terminal modes
// behave the same. The channel closes when r reaches EOF.
func readTaps(ctx context.Context, r io.Reader) <-chan time.Time {
	taps := make(chan time.Time)
	go func() {
		defer close(taps)
		buf := make([]byte, 1)
		var prev byte
		for {
			n, err := r.Read(buf)
			if n > 0 {
				b := buf[0]
				skip := b == '\n' && prev == '\r'
				prev = b
				if !skip {
					select {
					case taps <- time.Now():
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return taps
}

// ─── Config reload ────────────────────────────────────────────────────────────

// onConfigChange returns the watcher callback: it applies the log level
// immediately and reports which changed sections take effect later.
func onConfigChange(lvl *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			lvl.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		for _, section := range d.Tuning {
			slog.Info("tuning change applies from the next session", "section", section)
		}
		if len(d.RestartNeeded) > 0 {
			slog.Warn("changed sections need a restart to apply",
				"sections", strings.Join(d.RestartNeeded, ", "))
		}
	}
}

// ─── One-shot commands ────────────────────────────────────────────────────────

func runListDevices() int {
	devices, err := miniaudio.ListCaptureDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapscribe: list devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return 0
	}
	for _, d := range devices {
		fmt.Println(d.Name)
	}
	return 0
}

func runHistory(configPath string, n int) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapscribe: %v\n", err)
		return 1
	}
	if cfg.History.Path == "" {
		fmt.Fprintln(os.Stderr, "tapscribe: history is disabled in the configuration")
		return 1
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapscribe: open history: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := store.Recent(ctx, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapscribe: read history: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Printf("%s  %-14s %8s  %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Model,
			e.Duration.Round(100*time.Millisecond),
			e.Text,
		)
	}
	return 0
}

// ─── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        tapscribe — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Recognizer", cfg.Recognizer.Provider)
	printRow("Fallback", orDisabled(cfg.Recognizer.Fallback))
	printRow("Audio backend", string(cfg.Audio.Backend))
	printRow("Capture device", orDefault(cfg.Audio.Device))
	printRow("Delivery", string(cfg.Delivery.Mode))
	printRow("History", orDisabled(cfg.History.Path))
	printRow("Debug addr", orDisabled(cfg.DebugAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}

func orDefault(v string) string {
	if v == "" {
		return "(default)"
	}
	return v
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// defaultConfigPath places the config next to the history database. Loading
// falls back to built-in defaults when the file does not exist.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".tapscribe", "config.yaml")
}

// versionString reports the main module version baked in by the Go toolchain.
func versionString() string {
	v := "devel"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v = bi.Main.Version
	}
	return "tapscribe " + v
}
