package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func capture(t *testing.T, level slog.Level, format string) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	Init(level, format, &buf)
	return &buf
}

func TestInit_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"component=mart", "msg=loaded", "rows=17"}},
		{"JSON", []string{`"component":"mart"`, `"level":"INFO"`, `"rows":17`}},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			buf := capture(t, slog.LevelInfo, tc.format)
			New("mart").Info("loaded", "rows", 17)
			for _, w := range tc.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("missing %q in %s", w, buf)
				}
			}
		})
	}
}

func TestInit_LevelGating(t *testing.T) {
	buf := capture(t, slog.LevelWarn, "text")
	logger := New("interpret")
	logger.Info("pipeline done")
	logger.Warn("graph fallback")
	if strings.Contains(buf.String(), "pipeline done") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(buf.String(), "graph fallback") {
		t.Error("warn line missing")
	}
}

func TestInit_Redaction(t *testing.T) {
	buf := capture(t, slog.LevelInfo, "json")
	New("llm").Info("calling provider",
		"API_KEY", "sk-live-123",
		"llm_api_key", "sk-live-456",
		"prompt", "VIN WVW evidence list",
		slog.Group("req", "auth_token", "t-789"),
		"model", "gpt-4o-mini",
		"prompt_tokens", 12,
	)
	out := buf.String()
	for _, leak := range []string{"sk-live-123", "sk-live-456", "evidence list", "t-789"} {
		if strings.Contains(out, leak) {
			t.Errorf("%q leaked: %s", leak, out)
		}
	}
	for _, keep := range []string{`"model":"gpt-4o-mini"`, `"prompt_tokens":12`} {
		if !strings.Contains(out, keep) {
			t.Errorf("%s dropped: %s", keep, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
