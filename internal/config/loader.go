package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidRecognizers lists the backend names accepted in recognizer.provider
// and recognizer.fallback.
var ValidRecognizers = []string{"whisper", "whisper-native", "deepgram", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A missing file is not an error: the defaults from [Default]
// apply, so a fresh install runs without writing any configuration first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return LoadFromReader(strings.NewReader(""))
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Unknown keys are rejected so typos fail loudly
// instead of silently keeping a default. An empty document yields the
// defaults unchanged.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	// Environment overlay: secrets should not have to live in the file.
	if cfg.Recognizer.Deepgram.APIKey == "" {
		cfg.Recognizer.Deepgram.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	path, err := expandHome(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("config: history.path: %w", err)
	}
	cfg.History.Path = path

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Conditions that are suspicious but workable are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: miniaudio, synthetic", cfg.Audio.Backend))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate != 16000 {
		slog.Warn("recognition models expect 16 kHz capture; transcription quality may suffer",
			"sample_rate", cfg.Audio.SampleRate,
		)
	}
	if cfg.Audio.FrameMS <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMS))
	}
	if cfg.Audio.QueueFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_frames %d must be positive", cfg.Audio.QueueFrames))
	}

	// Gesture
	if cfg.Gesture.Window <= 0 {
		errs = append(errs, fmt.Errorf("gesture.window %s must be positive", cfg.Gesture.Window))
	}
	if cfg.Gesture.RepeatCount < 1 {
		errs = append(errs, fmt.Errorf("gesture.repeat_count %d must be at least 1", cfg.Gesture.RepeatCount))
	}

	// Segmenter
	if t := cfg.Segmenter.EnergyThreshold; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("segmenter.energy_threshold %g is out of range (0, 1)", t))
	}
	if cfg.Segmenter.SilenceToCut <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence_to_cut %s must be positive", cfg.Segmenter.SilenceToCut))
	}
	if cfg.Segmenter.MinSegmentDuration < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_segment_duration %s must not be negative", cfg.Segmenter.MinSegmentDuration))
	}
	if cfg.Segmenter.MaxSegmentDuration < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_segment_duration %s must not be negative", cfg.Segmenter.MaxSegmentDuration))
	}
	if cut := cfg.Segmenter.MaxSegmentDuration; cut > 0 && cut < cfg.Segmenter.MinSegmentDuration {
		errs = append(errs, fmt.Errorf("segmenter.max_segment_duration %s is below min_segment_duration %s",
			cut, cfg.Segmenter.MinSegmentDuration))
	}

	// Dispatcher
	if cfg.Dispatcher.MaxConcurrentRecognitions < 1 {
		errs = append(errs, fmt.Errorf("dispatcher.max_concurrent_recognitions %d must be at least 1", cfg.Dispatcher.MaxConcurrentRecognitions))
	}
	if cfg.Dispatcher.RecognitionTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.recognition_timeout %s must not be negative", cfg.Dispatcher.RecognitionTimeout))
	}
	if cfg.Dispatcher.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatcher.drain_timeout %s must not be negative", cfg.Dispatcher.DrainTimeout))
	}

	// Recognizer
	if !slices.Contains(ValidRecognizers, cfg.Recognizer.Provider) {
		errs = append(errs, fmt.Errorf("recognizer.provider %q is invalid; valid values: %s",
			cfg.Recognizer.Provider, strings.Join(ValidRecognizers, ", ")))
	}
	if fb := cfg.Recognizer.Fallback; fb != "" {
		if !slices.Contains(ValidRecognizers, fb) {
			errs = append(errs, fmt.Errorf("recognizer.fallback %q is invalid; valid values: %s",
				fb, strings.Join(ValidRecognizers, ", ")))
		}
		if fb == cfg.Recognizer.Provider {
			errs = append(errs, fmt.Errorf("recognizer.fallback %q must differ from recognizer.provider", fb))
		}
	}
	if cfg.Recognizer.uses("whisper") && cfg.Recognizer.Whisper.ServerURL == "" {
		errs = append(errs, errors.New("recognizer.whisper.server_url is required when the whisper backend is selected"))
	}
	if cfg.Recognizer.uses("whisper-native") && cfg.Recognizer.WhisperNative.ModelPath == "" {
		errs = append(errs, errors.New("recognizer.whisper_native.model_path is required when the whisper-native backend is selected"))
	}
	if cfg.Recognizer.uses("deepgram") && cfg.Recognizer.Deepgram.APIKey == "" {
		errs = append(errs, errors.New("recognizer.deepgram.api_key is required when the deepgram backend is selected (or set DEEPGRAM_API_KEY)"))
	}

	// Delivery
	if !cfg.Delivery.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("delivery.mode %q is invalid; valid values: clipboard, stdout", cfg.Delivery.Mode))
	}

	return errors.Join(errs...)
}

// uses reports whether name is selected as either the primary or the
// fallback backend.
func (r *RecognizerConfig) uses(name string) bool {
	return r.Provider == name || r.Fallback == name
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
