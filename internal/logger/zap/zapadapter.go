package zap

import (
	"go.uber.org/zap"

	"github.com/afoglia/dyschord/internal/logger"
)

// Adapter adapts a *zap.Logger to logger.Logger.
type Adapter struct {
	L *zap.Logger
}

// NewAdapter wraps l, skipping one extra frame so callers see their own
// call site rather than this file.
func NewAdapter(l *zap.Logger) Adapter {
	return Adapter{L: l.WithOptions(zap.AddCallerSkip(1))}
}

func (a Adapter) Named(name string) logger.Logger {
	return Adapter{L: a.L.Named(name)}
}

func (a Adapter) With(fields ...logger.Field) logger.Logger {
	return Adapter{L: a.L.With(toZap(fields)...)}
}

func (a Adapter) Debug(msg string, fields ...logger.Field) {
	if ce := a.L.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (a Adapter) Info(msg string, fields ...logger.Field) {
	if ce := a.L.Check(zap.InfoLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (a Adapter) Warn(msg string, fields ...logger.Field) {
	if ce := a.L.Check(zap.WarnLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (a Adapter) Error(msg string, fields ...logger.Field) {
	if ce := a.L.Check(zap.ErrorLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func toZap(fs []logger.Field) []zap.Field {
	if len(fs) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		out = append(out, zap.Any(f.Key, f.Val))
	}
	return out
}
