package logutil

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewMaskHandler(inner)), &buf
}

func TestMasksSensitiveKeys(t *testing.T) {
	logger, buf := newBufferLogger()

	logger.Info("login", "username", "alice", "password", "hunter2")

	out := buf.String()
	require.Contains(t, out, "alice")
	require.Contains(t, out, maskValue)
	require.NotContains(t, out, "hunter2")
}

func TestMasksBearerValues(t *testing.T) {
	logger, buf := newBufferLogger()

	logger.Info("request", "header", "Bearer abcdef123456")

	require.NotContains(t, buf.String(), "abcdef123456")
}

func TestMasksGroupedAttrs(t *testing.T) {
	logger, buf := newBufferLogger()

	logger.Info("challenge", slog.Group("challenge", "kind", "email_otp", "resolution", "991234"))

	out := buf.String()
	require.Contains(t, out, "email_otp")
	require.NotContains(t, out, "991234")
}

func TestPlainAttrsPassThrough(t *testing.T) {
	logger, buf := newBufferLogger()

	logger.Info("query", "identifier", "user123", "status", "queued")

	out := buf.String()
	require.Contains(t, out, "user123")
	require.Contains(t, out, "queued")
	require.NotContains(t, out, maskValue)
}
