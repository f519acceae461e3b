package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "CAPTURE_SOURCE", "TTS_ENABLED", "SPEECH_GRACE_MS"} {
		t.Setenv(k, "")
	}

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.Speech.CaptureSource != "browser" {
		t.Fatalf("expected browser capture, got %q", c.Speech.CaptureSource)
	}
	if !c.Meeting.TTSEnabled {
		t.Fatalf("expected tts enabled by default")
	}
	if c.Speech.GraceMs != 100 {
		t.Fatalf("expected grace 100ms, got %d", c.Speech.GraceMs)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CAPTURE_SOURCE", "Deepgram")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com/")
	t.Setenv("ELEVENLABS_VOICES", "CTO=v1, Finance = v2,broken")
	t.Setenv("LEARNING_MODE", "true")

	c := Load()

	if c.Server.Port != "9000" {
		t.Fatalf("port: got %q", c.Server.Port)
	}
	if c.Speech.CaptureSource != "deepgram" {
		t.Fatalf("capture source: got %q", c.Speech.CaptureSource)
	}
	if c.LLM.Endpoint != "https://example.openai.azure.com" {
		t.Fatalf("endpoint: got %q", c.LLM.Endpoint)
	}
	if len(c.Eleven.Voices) != 2 || c.Eleven.Voices["CTO"] != "v1" || c.Eleven.Voices["Finance"] != "v2" {
		t.Fatalf("voices: got %v", c.Eleven.Voices)
	}
	if !c.Meeting.LearningMode {
		t.Fatalf("learning mode not read")
	}
}
