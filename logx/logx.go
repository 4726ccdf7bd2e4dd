// Package logx is a thin structured-logging wrapper around zerolog, used
// throughout the engine instead of calling zerolog directly so call sites
// read the way the rest of the codebase expects: Infof/Warnf/Errorf on a
// component-scoped *Logger from logx.New.
package logx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Logger is a component-scoped logger carrying a fixed set of fields
// (e.g. component name, symbol) on every entry.
type Logger struct {
	z zerolog.Logger
}

// New returns a Logger tagged with component, e.g. logx.New("orchestrator").
func New(component string) *Logger {
	return &Logger{z: base.With().Str("component", component).Logger()}
}

// With returns a copy of l with an additional string field attached.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{z: l.z.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                   { l.z.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)  { l.z.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.z.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

// SetJSON switches the process-wide base logger to newline-delimited JSON,
// matching a production deployment (console writer is for local dev only).
func SetJSON() {
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
