package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologAdapterWithLogger(zerolog.New(&buf))

	logger.Warn("storage unavailable",
		String("name", "app"),
		Int("version", 2),
		Bool("migrated", true),
		Duration("took", 1500*time.Millisecond),
		Err(errors.New("boom")),
	)

	entry := decodeLine(t, &buf)
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
	if entry["message"] != "storage unavailable" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["name"] != "app" {
		t.Errorf("name = %v, want app", entry["name"])
	}
	if entry["version"] != float64(2) {
		t.Errorf("version = %v, want 2", entry["version"])
	}
	if entry["migrated"] != true {
		t.Errorf("migrated = %v, want true", entry["migrated"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologAdapterWithLogger(zerolog.New(&buf))

	child := base.With(String("store", "app"))
	child.Info("hydrated")

	entry := decodeLine(t, &buf)
	if entry["store"] != "app" {
		t.Errorf("store = %v, want app", entry["store"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNoopLogger_With(t *testing.T) {
	var l Logger = NewNoopLogger()
	if l.With(String("k", "v")) == nil {
		t.Fatal("With returned nil")
	}
}
