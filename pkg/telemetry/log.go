package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

var sensitiveKeys = map[string]bool{
	"password": true, "token": true, "secret": true, "access_key": true,
	"secret_key": true, "api_key": true, "auth_token": true, "credential": true,
	"connection_string": true, "session_token": true,
}

// Redact replaces the value of secret-looking attributes. It is a
// slog.HandlerOptions.ReplaceAttr hook.
func Redact(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// NewLogger builds a text or JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: Redact}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
