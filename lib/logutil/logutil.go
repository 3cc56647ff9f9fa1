package logutil

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// attribute keys that must never be printed raw. portal passwords,
// session cookies and challenge resolution values are all credentials.
var sensitiveKeys = map[string]bool{
	"authorization": true,
	"auth_token":    true,
	"cookie":        true,
	"set-cookie":    true,
	"credential":    true,
	"credentials":   true,
	"otp":           true,
	"password":      true,
	"passwd":        true,
	"resolution":    true,
	"secret":        true,
	"session":       true,
	"token":         true,
}

var sensitiveValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
}

const maskValue = "[redacted]"

// MaskHandler wraps another slog.Handler and redacts attributes whose
// key or value looks like a credential.
type MaskHandler struct {
	inner slog.Handler
}

func NewMaskHandler(inner slog.Handler) MaskHandler {
	if inner == nil {
		inner = slog.Default().Handler()
	}
	return MaskHandler{inner: inner}
}

func (h MaskHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h MaskHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(maskAttr(a))
		return true
	})
	return h.inner.Handle(ctx, masked)
}

func (h MaskHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		maskedAttrs[i] = maskAttr(a)
	}
	return MaskHandler{inner: h.inner.WithAttrs(maskedAttrs)}
}

func (h MaskHandler) WithGroup(name string) slog.Handler {
	return MaskHandler{inner: h.inner.WithGroup(name)}
}

func maskAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		maskedAttrs := make([]slog.Attr, len(attrs))
		for i, groupAttr := range attrs {
			maskedAttrs[i] = maskAttr(groupAttr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(maskedAttrs...)}
	}

	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, maskValue)
	}
	if a.Value.Kind() == slog.KindString {
		for _, pattern := range sensitiveValuePatterns {
			if pattern.MatchString(a.Value.String()) {
				return slog.String(a.Key, maskValue)
			}
		}
	}
	return a
}

// Init installs the default logger for binaries: tint on stderr
// wrapped in masking.
func Init(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	slog.SetDefault(slog.New(NewMaskHandler(handler)))
}
