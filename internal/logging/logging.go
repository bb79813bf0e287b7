// Package logging provides the daemon's structured logger.
//
// It wraps logrus so call sites never import it directly, the same
// indirection the Incus client tree uses around its own logger package.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx is a set of structured fields attached to a single log line.
type Ctx map[string]any

// Logger is the logging surface used throughout the daemon.
type Logger interface {
	Debug(msg string, ctx ...Ctx)
	Info(msg string, ctx ...Ctx)
	Warn(msg string, ctx ...Ctx)
	Error(msg string, ctx ...Ctx)
	Fatal(msg string, ctx ...Ctx)
	AddContext(ctx Ctx) Logger
}

type logWrapper struct {
	target *logrus.Entry
}

// New builds a Logger writing to stderr at the given level ("debug", "info",
// "warn", "error"). An unrecognized level falls back to "info".
func New(level string) Logger {
	l := logrus.New()
	l.Out = os.Stderr

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}

	l.SetLevel(parsed)

	return &logWrapper{target: logrus.NewEntry(l)}
}

func (w *logWrapper) ctxEntry(ctx ...Ctx) *logrus.Entry {
	entry := w.target
	for _, c := range ctx {
		entry = entry.WithFields(logrus.Fields(c))
	}

	return entry
}

func (w *logWrapper) Debug(msg string, ctx ...Ctx) { w.ctxEntry(ctx...).Debug(msg) }
func (w *logWrapper) Info(msg string, ctx ...Ctx)  { w.ctxEntry(ctx...).Info(msg) }
func (w *logWrapper) Warn(msg string, ctx ...Ctx)  { w.ctxEntry(ctx...).Warn(msg) }
func (w *logWrapper) Error(msg string, ctx ...Ctx) { w.ctxEntry(ctx...).Error(msg) }
func (w *logWrapper) Fatal(msg string, ctx ...Ctx) { w.ctxEntry(ctx...).Fatal(msg) }

func (w *logWrapper) AddContext(ctx Ctx) Logger {
	return &logWrapper{target: w.ctxEntry(ctx)}
}

// Discard is a Logger that drops everything, for use in tests.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return &logWrapper{target: logrus.NewEntry(l)}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
