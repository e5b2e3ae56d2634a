// Package logging configures the process-wide slog logger. Every component
// logs through New(component) so lines can be filtered by origin.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted replaces the value of any attribute whose key is sensitive.
const Redacted = "***REDACTED***"

// Keys are matched case-insensitively, either exactly or as the last
// underscore-separated part ("llm_api_key" matches "api_key").
var sensitiveKeys = []string{"api_key", "token", "password", "secret", "authorization", "prompt"}

// Init installs a text or JSON handler on w (stderr when w is nil) as the
// slog default. Sensitive attributes are redacted at the handler so no call
// site can leak credentials or prompt text.
func Init(level slog.Level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if strings.EqualFold(format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
}

// New returns the default logger tagged with component.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// ParseLevel maps debug, info, warn and error to a slog.Level. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if key == k || strings.HasSuffix(key, "_"+k) {
			return true
		}
	}
	return false
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindGroup && sensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}
