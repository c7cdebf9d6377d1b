// Package logging builds the process logger: charmbracelet/log for
// interactive commands, slog JSON or text for services, always behind a
// handler that redacts API keys.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level  slog.Level
	Pretty bool
	JSON   bool
	Source bool
	Writer io.Writer

	// Redactor scrubs secrets from every record. Nil uses NewRedactor().
	Redactor *Redactor
}

// New returns a logger for opts. Pretty wins over JSON.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	r := opts.Redactor
	if r == nil {
		r = NewRedactor()
	}

	var h slog.Handler
	switch {
	case opts.Pretty:
		h = charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(opts.Level),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			ReportCaller:    opts.Source,
		})
	case opts.JSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level, AddSource: opts.Source})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level, AddSource: opts.Source})
	}
	return slog.New(NewRedactingHandler(h, r))
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything
// else is info.
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

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
