package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/duckmesh/tableqa/internal/config"
)

func TestNewLoggerJSONIncludesServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileTest,
		Service:       config.ServiceConfig{Name: "tableqa-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	logger := NewLogger(cfg, &buf)
	logger.Info("hello", slog.String("table", "t1"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal() error = %v (%q)", err, buf.String())
	}
	if entry["service"] != "tableqa-api" {
		t.Fatalf("service = %v", entry["service"])
	}
	if entry["profile"] != "test" {
		t.Fatalf("profile = %v", entry["profile"])
	}
	if entry["table"] != "t1" {
		t.Fatalf("table = %v", entry["table"])
	}
}

func TestNewLoggerTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Service:       config.ServiceConfig{Name: "tableqa"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelWarn},
	}
	logger := NewLogger(cfg, &buf)
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=kept") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Service:       config.ServiceConfig{Name: "tableqa"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	logger := NewLogger(cfg, &buf)
	logger.Info("dial", slog.String("api_key", "sk-live"), slog.String("Authorization", "Bearer k1"), slog.String("model", "gpt-4o"))

	out := buf.String()
	if strings.Contains(out, "sk-live") || strings.Contains(out, "Bearer k1") {
		t.Fatalf("secret leaked: %q", out)
	}
	if !strings.Contains(out, `"model":"gpt-4o"`) {
		t.Fatalf("ordinary attribute dropped: %q", out)
	}
}
