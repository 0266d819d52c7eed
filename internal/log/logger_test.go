package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	var buf bytes.Buffer
	Setup("DEBUG", "json", &buf)
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	Debug("debug line")
	if !strings.Contains(buf.String(), `"msg":"debug line"`) {
		t.Fatalf("expected debug line in output, got %q", buf.String())
	}

	// Setup only takes effect once.
	var other bytes.Buffer
	Setup("ERROR", "json", &other)
	Info("still here")
	if other.Len() != 0 {
		t.Fatalf("second Setup should be ignored, got %q", other.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", "text", &buf)
	l.Info("hello", "module", "base")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "module=base") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("registry").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "registry" {
		t.Errorf("Expected component 'registry', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithModule(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithModule("base").Info("module msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["module"] != "base" {
		t.Errorf("Expected module 'base', got %v", out["module"])
	}
}
