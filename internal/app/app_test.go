package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_BASE_URL", "http://localhost:9999")
	t.Setenv("STORAGE_URL", "memory://")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "")
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.APIBaseURL != "http://localhost:9999" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}

	slog.Default().Info("init test")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "error")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	buf.Reset()

	slog.Info("filtered")
	if buf.Len() != 0 {
		t.Errorf("info log should be filtered at error level: %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}
