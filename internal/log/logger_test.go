package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")

	WithComponent("webhook").Debug("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode JSON: %v (%q)", err, buf.String())
	}
	if out["component"] != "webhook" {
		t.Errorf("component = %v, want webhook", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", out["msg"])
	}
}

func TestSetupWriterTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "text")

	Get().Info("dropped")
	WithJob("job-123").Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "job_id=job-123") {
		t.Errorf("expected job_id attribute in %q", out)
	}
}
