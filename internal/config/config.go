// Package config provides the YAML configuration schema, defaults, loader,
// and recognizer registry for the Tapscribe transcription pipeline.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Backend selects the audio capture implementation.
type Backend string

const (
	// BackendMiniaudio captures from a real input device.
	BackendMiniaudio Backend = "miniaudio"

	// BackendSynthetic generates a scripted tone/silence stream, for
	// machines without a microphone and for end-to-end testing.
	BackendSynthetic Backend = "synthetic"
)

// IsValid reports whether b is a recognised capture backend.
func (b Backend) IsValid() bool {
	return b == BackendMiniaudio || b == BackendSynthetic
}

// DeliveryMode selects where finished transcripts go.
type DeliveryMode string

const (
	// DeliverClipboard copies the transcript via a platform clipboard helper.
	DeliverClipboard DeliveryMode = "clipboard"

	// DeliverStdout prints the transcript to standard output, for piping.
	DeliverStdout DeliveryMode = "stdout"
)

// IsValid reports whether m is a recognised delivery mode.
func (m DeliveryMode) IsValid() bool {
	return m == DeliverClipboard || m == DeliverStdout
}

// Duration wraps [time.Duration] so YAML values can be written as "500ms"
// or "1.5s" instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML parses a duration string scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a standard [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration in time.Duration notation.
func (d Duration) String() string { return time.Duration(d).String() }

// Config is the root configuration structure for Tapscribe. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader]; absent fields
// keep the values from [Default].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	Audio      AudioConfig      `yaml:"audio"`
	Gesture    GestureConfig    `yaml:"gesture"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	History    HistoryConfig    `yaml:"history"`
	Delivery   DeliveryConfig   `yaml:"delivery"`

	// Cues enables the start/stop tone played at recording boundaries.
	Cues bool `yaml:"cues"`

	// SegmentDumpDir, when set, makes the pipeline write every emitted
	// segment to this directory as a 16-bit PCM WAV file. Troubleshooting
	// aid; empty disables.
	SegmentDumpDir string `yaml:"segment_dump_dir"`

	// DebugAddr, when set, serves /metrics, /healthz, and /readyz on this
	// address (e.g. "127.0.0.1:9090"). Empty disables the debug server.
	DebugAddr string `yaml:"debug_addr"`
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	// Backend selects the capture implementation.
	Backend Backend `yaml:"backend"`

	// Device is a case-insensitive substring matched against capture device
	// names. Empty selects the system default device.
	Device string `yaml:"device"`

	// SampleRate is the capture rate in Hz. Recognition models expect 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMS is the target capture callback period in milliseconds.
	FrameMS int `yaml:"frame_ms"`

	// QueueFrames bounds the capture-to-pipeline handoff queue. When the
	// pipeline falls behind, the oldest frames are dropped past this cap.
	QueueFrames int `yaml:"queue_frames"`
}

// GestureConfig holds activation gesture tuning.
type GestureConfig struct {
	// Window is the sliding interval within which repeated taps count as
	// one activation.
	Window Duration `yaml:"window"`

	// RepeatCount is how many taps inside Window trigger an activation.
	RepeatCount int `yaml:"repeat_count"`
}

// SegmenterConfig holds speech segmentation tuning.
type SegmenterConfig struct {
	// EnergyThreshold is the RMS level above which a frame counts as voiced.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SilenceToCut is the continuous silence needed to close a segment.
	SilenceToCut Duration `yaml:"silence_to_cut"`

	// MinSegmentDuration discards shorter segments as noise blips.
	MinSegmentDuration Duration `yaml:"min_segment_duration"`

	// MaxSegmentDuration force-cuts a segment that never pauses. Zero
	// disables the cap.
	MaxSegmentDuration Duration `yaml:"max_segment_duration"`
}

// DispatcherConfig holds recognition dispatch tuning.
type DispatcherConfig struct {
	// MaxConcurrentRecognitions sets the worker pool size. One worker
	// preserves strict arrival-order recognition.
	MaxConcurrentRecognitions int `yaml:"max_concurrent_recognitions"`

	// RecognitionTimeout bounds a single recognition call. Zero disables.
	RecognitionTimeout Duration `yaml:"recognition_timeout"`

	// DrainTimeout bounds how long a stopped session waits for outstanding
	// recognitions before giving up on them.
	DrainTimeout Duration `yaml:"drain_timeout"`

	// FailedSegmentMarker replaces segments whose recognition failed in the
	// final transcript (e.g. "[inaudible]"). Empty omits them entirely.
	FailedSegmentMarker string `yaml:"failed_segment_marker"`
}

// RecognizerConfig selects and configures the speech recognition backends.
type RecognizerConfig struct {
	// Provider is the primary backend: whisper, whisper-native, deepgram,
	// or mock.
	Provider string `yaml:"provider"`

	// Fallback optionally names a second backend consulted when the
	// primary fails or its circuit breaker is open.
	Fallback string `yaml:"fallback"`

	Whisper       WhisperConfig       `yaml:"whisper"`
	WhisperNative WhisperNativeConfig `yaml:"whisper_native"`
	Deepgram      DeepgramConfig      `yaml:"deepgram"`

	// Language is the BCP-47 language hint passed to the backends.
	Language string `yaml:"language"`
}

// WhisperConfig configures the whisper-server HTTP backend.
type WhisperConfig struct {
	// ServerURL is the base URL of a running whisper server.
	ServerURL string `yaml:"server_url"`
}

// WhisperNativeConfig configures the in-process whisper.cpp backend.
type WhisperNativeConfig struct {
	// ModelPath is the path to a GGML model file.
	ModelPath string `yaml:"model_path"`
}

// DeepgramConfig configures the Deepgram cloud backend.
type DeepgramConfig struct {
	// APIKey authenticates against the Deepgram API. When empty, the
	// DEEPGRAM_API_KEY environment variable is used.
	APIKey string `yaml:"api_key"`

	// Model selects the Deepgram model.
	Model string `yaml:"model"`
}

// HistoryConfig holds transcript history settings.
type HistoryConfig struct {
	// Path is the SQLite database file. A leading "~/" expands to the
	// user's home directory. Empty disables history entirely.
	Path string `yaml:"path"`
}

// DeliveryConfig holds transcript delivery settings.
type DeliveryConfig struct {
	// Mode selects where transcripts go.
	Mode DeliveryMode `yaml:"mode"`

	// Paste additionally injects a paste keystroke after a clipboard copy.
	// Ignored in stdout mode.
	Paste bool `yaml:"paste"`
}

// Default returns a Config populated with working defaults: local whisper
// server recognition, clipboard delivery, cues on, history in the user's
// home directory.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			Backend:     BackendMiniaudio,
			SampleRate:  16000,
			FrameMS:     30,
			QueueFrames: 256,
		},
		Gesture: GestureConfig{
			Window:      Duration(500 * time.Millisecond),
			RepeatCount: 3,
		},
		Segmenter: SegmenterConfig{
			EnergyThreshold:    0.015,
			SilenceToCut:       Duration(1500 * time.Millisecond),
			MinSegmentDuration: Duration(500 * time.Millisecond),
			MaxSegmentDuration: Duration(30 * time.Second),
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrentRecognitions: 1,
			RecognitionTimeout:        Duration(30 * time.Second),
			DrainTimeout:              Duration(60 * time.Second),
		},
		Recognizer: RecognizerConfig{
			Provider: "whisper",
			Whisper:  WhisperConfig{ServerURL: "http://127.0.0.1:8080"},
			Deepgram: DeepgramConfig{Model: "nova-3"},
			Language: "en",
		},
		History: HistoryConfig{
			Path: "~/.tapscribe/history.db",
		},
		Delivery: DeliveryConfig{
			Mode: DeliverClipboard,
		},
		Cues: true,
	}
}
