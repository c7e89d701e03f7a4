package log

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global JSON logger on stdout. Unknown levels fall
// back to INFO.
func Setup(level string) {
	SetupWithWriter(level, "json", os.Stdout)
}

// SetupWithWriter is Setup with an explicit format ("json" or "text") and sink.
// Only the first call takes effect.
func SetupWithWriter(level, format string, w io.Writer) {
	once.Do(func() {
		opts := &slog.HandlerOptions{Level: parseLevel(level)}
		var handler slog.Handler = slog.NewJSONHandler(w, opts)
		if strings.EqualFold(format, "text") {
			handler = slog.NewTextHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// JobFields are the attributes carried by every job-scoped line. The prompt
// itself is never logged, only its digest.
func JobFields(id int64, provider, prompt string) []any {
	return []any{
		slog.Int64("job_id", id),
		slog.String("provider", provider),
		slog.String("prompt_digest", PromptDigest(prompt)),
	}
}

// PromptDigest returns a short BLAKE3 digest of a prompt so log lines can
// correlate jobs without carrying prompt text.
func PromptDigest(prompt string) string {
	sum := blake3.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}

type ctxKey struct{}

// NewContext returns ctx carrying l.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by NewContext, or fallback.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
