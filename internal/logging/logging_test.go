package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("capture session opened", KeyWidth, 1920, KeyHeight, 1080)

	out := buf.String()
	if !strings.Contains(out, `msg="capture session opened"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=capture") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "width=1920") || !strings.Contains(out, "height=1080") {
		t.Fatalf("expected dimension fields, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("screen")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormatKeepsAttrsAndGroups(t *testing.T) {
	logger := L("metrics").WithGroup("stats").With(slog.Int("captures", 3))

	var buf bytes.Buffer
	Init("json", "debug", &buf)

	logger.Debug("snapshot")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "metrics" {
		t.Fatalf("component = %v, want metrics", entry["component"])
	}
	group, ok := entry["stats"].(map[string]any)
	if !ok {
		t.Fatalf("expected stats group, got %v", entry)
	}
	if group["captures"] != float64(3) {
		t.Fatalf("captures = %v, want 3", group["captures"])
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without logger should return the default logger")
	}

	scoped := L("capture").With(KeySessionID, "abc")
	ctx := NewContext(context.Background(), scoped)
	FromContext(ctx).Info("frame")

	if !strings.Contains(buf.String(), "sessionId=abc") {
		t.Fatalf("expected session id from context logger, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
