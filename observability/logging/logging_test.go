package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRemapsFieldNames(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, slog.LevelInfo)).With(slog.String("service", "curvemarketd"))

	logger.Info("trade settled", "amount", "100")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "trade settled" {
		t.Fatalf("message field missing: %v", line)
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity field missing: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp field missing: %v", line)
	}
	if line["service"] != "curvemarketd" || line["amount"] != "100" {
		t.Fatalf("attributes lost: %v", line)
	}
	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := line[key]; ok {
			t.Fatalf("default slog key %q leaked through: %v", key, line)
		}
	}
}

func TestHandlerHonorsMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, slog.LevelWarn))

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted below warn threshold: %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn line suppressed")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
