// Package logger builds named zap loggers and carries request scoped fields
// through a context.
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

func (l *Logger) Unwrap() *zap.SugaredLogger {
	return l.SugaredLogger
}

// Reflect wraps a value so it is logged with reflection based encoding.
func (l *Logger) Reflect(key string, v any) zap.Field {
	return zap.Reflect(key, v)
}

var (
	rootOnce sync.Once
	root     *zap.Logger
)

func rootLogger() *zap.Logger {
	rootOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if lvl, err := zapcore.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		root = l
	})
	return root
}

// SetRoot replaces the process logger. Tests use it to observe output.
func SetRoot(l *zap.Logger) {
	rootLogger()
	root = l
}

func MustNamed(name string) *Logger {
	return &Logger{SugaredLogger: rootLogger().Named(name).Sugar()}
}

type ctxKey struct{}

// WithValues attaches key/value pairs to every line logged with ctx.
func WithValues(ctx context.Context, keysAndValues ...any) context.Context {
	prev, _ := ctx.Value(ctxKey{}).([]any)
	fields := make([]any, 0, len(prev)+len(keysAndValues))
	fields = append(fields, prev...)
	fields = append(fields, keysAndValues...)
	return context.WithValue(ctx, ctxKey{}, fields)
}

// FromContext returns the process logger enriched with the fields carried by ctx.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	l := rootLogger().Sugar()
	if ctx == nil {
		return l
	}
	if fields, ok := ctx.Value(ctxKey{}).([]any); ok && len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}
