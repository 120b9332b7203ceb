package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func parseLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("expected valid JSON log output, got error: %v\nraw: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestSetup_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf).Warn("claim responded",
		slog.String("claim_id", "c-1"),
		slog.Int("trust_score", 3),
	)

	entries := parseLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]

	want := map[string]any{
		"msg":         "claim responded",
		"level":       "WARN",
		"service":     ServiceName,
		"claim_id":    "c-1",
		"trust_score": float64(3),
	}
	for k, v := range want {
		if e[k] != v {
			t.Errorf("%s = %v, want %v", k, e[k], v)
		}
	}
	if _, ok := e["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf)
	Component("dispatcher").Info("notification sent")

	entries := parseLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1\nraw: %s", len(entries), buf.String())
	}
	if entries[0]["component"] != "dispatcher" {
		t.Errorf("component = %v, want dispatcher", entries[0]["component"])
	}
	if entries[0]["service"] != ServiceName {
		t.Errorf("service = %v, want %s", entries[0]["service"], ServiceName)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLevel_AppliesToExistingLoggers(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	var buf bytes.Buffer
	l := Setup(&buf)

	SetLevel("warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("warnレベルでinfoが出力された: %s", buf.String())
	}

	SetLevel("debug")
	l.Debug("shown")
	if len(parseLines(t, &buf)) != 1 {
		t.Fatal("debugレベルでdebugが出力されなかった")
	}
}
