// Package logger is a small structured-logging facade over zap.
//
// Messages take alternating key/value pairs:
//
//	log.Info("database opened", "path", path, "backend", "pebble")
//
// Components receive a [Logger] through their options and fall back to
// [Default] when none is configured.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// Logger is the logging contract used throughout the module.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// With returns a child logger that always includes the given pairs.
	With(keysAndValues ...any) Logger

	// Sync flushes any buffered entries.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New wraps an existing zap logger.
func New(z *zap.Logger) Logger {
	return &zapLogger{s: z.Sugar()}
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }

// MustProduction builds a JSON production logger and panics on failure.
func MustProduction() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return New(z)
}

// MustDevelopment builds a human-readable development logger and panics on failure.
func MustDevelopment() Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return New(z)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return New(zap.NewNop())
}

var (
	defaultMu sync.RWMutex
	defaultL  = Nop()
)

// Default returns the process-wide logger. It discards output until
// SetDefault is called.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultL
}

// SetDefault replaces the process-wide logger. A nil logger is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultL = l
	defaultMu.Unlock()
}

// SyncDefault flushes the process-wide logger. Errors are ignored since
// syncing stderr fails on some platforms.
func SyncDefault() {
	_ = Default().Sync()
}

// Fatal logs at error level on the default logger, flushes, and exits.
func Fatal(msg string, keysAndValues ...any) {
	l := Default()
	l.Error(msg, keysAndValues...)
	_ = l.Sync()
	os.Exit(1)
}
