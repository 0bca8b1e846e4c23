package config_test

import (
	"strings"
	"testing"

	"github.com/pitchside-ai/pitchside/internal/config"
)

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  completion_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for completion_threshold > 1, got nil")
	}
	if !strings.Contains(err.Error(), "completion_threshold") {
		t.Errorf("error should mention completion_threshold, got: %v", err)
	}
}

func TestValidate_NegativeRetryBudget(t *testing.T) {
	t.Parallel()
	yaml := `
conversation:
  retry_budget: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative retry_budget, got nil")
	}
	if !strings.Contains(err.Error(), "retry_budget") {
		t.Errorf("error should mention retry_budget, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_STTEntryRequiresName(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  stt:
    - api_key: sk-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for STT entry without a name, got nil")
	}
	if !strings.Contains(err.Error(), "stt[0].name") {
		t.Errorf("error should mention stt[0].name, got: %v", err)
	}
}

func TestValidate_WebRTCSampleRate(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  vad:
    name: webrtc
audio:
  sample_rate: 44100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for webrtc VAD with 44100 Hz audio, got nil")
	}
	if !strings.Contains(err.Error(), "sample_rate") {
		t.Errorf("error should mention sample_rate, got: %v", err)
	}
}

func TestValidate_WebRTCRequiresMono(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  vad:
    name: webrtc
audio:
  sample_rate: 16000
  channels: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for webrtc VAD with stereo audio, got nil")
	}
	if !strings.Contains(err.Error(), "mono") {
		t.Errorf("error should mention mono, got: %v", err)
	}
}

func TestValidate_WebRTCValidAudio(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  vad:
    name: webrtc
audio:
  sample_rate: 48000
  channels: 1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
conversation:
  completion_threshold: -0.5
  retry_budget: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "completion_threshold", "retry_budget"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
