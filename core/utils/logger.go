package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It keeps the printf-style surface the
// rest of the codebase calls while delegating formatting and sinks to zap.
type Logger struct {
	s *zap.SugaredLogger
}

func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	return &Logger{s: l.Sugar()}
}

func NewNopLogger() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Infof(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Errorf(format, args...)
}

func (l *Logger) Sync() {
	if l == nil || l.s == nil {
		return
	}
	_ = l.s.Sync()
}
