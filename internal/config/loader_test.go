package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/tapscribe/tapscribe/internal/config"
)

func TestValidate_UnknownRecognizer(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  provider: dragon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown recognizer, got nil")
	}
	if !strings.Contains(err.Error(), "recognizer.provider") {
		t.Errorf("error should mention recognizer.provider, got: %v", err)
	}
}

func TestValidate_FallbackMustDiffer(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  provider: whisper
  fallback: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallback == provider, got nil")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Errorf("error should mention must differ, got: %v", err)
	}
}

func TestValidate_WhisperRequiresServerURL(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  provider: whisper
  whisper:
    server_url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty server_url, got nil")
	}
	if !strings.Contains(err.Error(), "server_url") {
		t.Errorf("error should mention server_url, got: %v", err)
	}
}

func TestValidate_WhisperNativeRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  provider: whisper-native
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing model_path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_DeepgramRequiresAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	yaml := `
recognizer:
  provider: deepgram
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing deepgram api key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestLoadFromReader_DeepgramKeyFromEnvironment(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-env-key")
	yaml := `
recognizer:
  provider: deepgram
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognizer.Deepgram.APIKey != "dg-env-key" {
		t.Errorf("api_key: got %q, want dg-env-key", cfg.Recognizer.Deepgram.APIKey)
	}
}

func TestLoadFromReader_FileKeyBeatsEnvironment(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-env-key")
	yaml := `
recognizer:
  provider: deepgram
  deepgram:
    api_key: dg-file-key
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognizer.Deepgram.APIKey != "dg-file-key" {
		t.Errorf("api_key: got %q, want dg-file-key", cfg.Recognizer.Deepgram.APIKey)
	}
}

func TestValidate_EnergyThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
segmenter:
  energy_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range threshold, got nil")
	}
	if !strings.Contains(err.Error(), "energy_threshold") {
		t.Errorf("error should mention energy_threshold, got: %v", err)
	}
}

func TestValidate_MaxSegmentBelowMin(t *testing.T) {
	t.Parallel()
	yaml := `
segmenter:
  min_segment_duration: 500ms
  max_segment_duration: 200ms
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for max below min, got nil")
	}
	if !strings.Contains(err.Error(), "below min_segment_duration") {
		t.Errorf("error should mention the ordering, got: %v", err)
	}
}

func TestValidate_NegativeTimeout(t *testing.T) {
	t.Parallel()
	yaml := `
dispatcher:
  recognition_timeout: -5s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative timeout, got nil")
	}
	if !strings.Contains(err.Error(), "recognition_timeout") {
		t.Errorf("error should mention recognition_timeout, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  queue_frames: 0
gesture:
  repeat_count: 0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "queue_frames") {
		t.Errorf("error should mention queue_frames, got: %v", err)
	}
	if !strings.Contains(errStr, "repeat_count") {
		t.Errorf("error should mention repeat_count, got: %v", err)
	}
}

func TestLoadFromReader_ExpandsHomePath(t *testing.T) {
	t.Parallel()
	yaml := `
history:
  path: ~/custom/tap.db
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("cannot resolve home dir: %v", err)
	}
	want := filepath.Join(home, "custom", "tap.db")
	if cfg.History.Path != want {
		t.Errorf("history.path: got %q, want %q", cfg.History.Path, want)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error for missing file: %v", err)
	}
	if cfg.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want default info", cfg.LogLevel)
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: error\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != config.LogError {
		t.Errorf("log_level: got %q, want error", cfg.LogLevel)
	}
}

func TestLoad_InvalidFileReportsPath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: [not, a, string]\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid file, got nil")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should include the file path, got: %v", err)
	}
}

func TestValidRecognizers(t *testing.T) {
	t.Parallel()
	// Sanity-check that the list is populated.
	if len(config.ValidRecognizers) == 0 {
		t.Fatal("ValidRecognizers should not be empty")
	}
	if !slices.Contains(config.ValidRecognizers, "whisper") {
		t.Error("ValidRecognizers should contain \"whisper\"")
	}
}
