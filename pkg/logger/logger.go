// Package logger builds the root slog logger for the content hub binaries.
// Both the bot and the worker log through log/slog; this package keeps the
// handler construction and level parsing in one place and provides shared
// attribute constructors for pipeline entities.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Options configures the root logger.
type Options struct {
	// Level is the minimum level name: "debug", "info", "warn", "error".
	// Unknown values fall back to "info".
	Level string

	// Format selects the handler: "text" for development, anything else
	// means JSON for log aggregators.
	Format string

	// Debug forces the debug level regardless of Level.
	Debug bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a *slog.Logger from the options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}
	if opts.Debug {
		handlerOpts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	return slog.New(handler)
}

// Setup builds the root logger and installs it as the slog default, so
// library code that calls slog.Default() logs through the same handler.
func Setup(opts Options) *slog.Logger {
	log := New(opts)
	slog.SetDefault(log)
	return log
}

// ParseLevel maps a level name to slog.Level. Unknown names map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Attribute constructors
// Общие атрибуты конвейера, чтобы имена ключей не расходились между
// компонентами.
// ─────────────────────────────────────────────────────────────────────────────

// Err returns the conventional error attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

func BatchID(id string) slog.Attr       { return slog.String("batch_id", id) }
func CandidateID(id string) slog.Attr   { return slog.String("candidate_id", id) }
func TopicID(id int64) slog.Attr        { return slog.Int64("topic_id", id) }
func TelegramID(id int64) slog.Attr     { return slog.Int64("telegram_id", id) }
func AdminID(id int64) slog.Attr        { return slog.Int64("admin_id", id) }
func Score(score int) slog.Attr         { return slog.Int("score", score) }
func Verdict(v string) slog.Attr        { return slog.String("verdict", v) }
func BatchStatus(s string) slog.Attr    { return slog.String("batch_status", s) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr { return slog.String("latency", d.String()) }
