// Package zap adapts a *zap.Logger to gencache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/gencache"
)

var _ gencache.Logger = Logger{}

// Logger forwards to L. An "err" field of type error becomes zap.Error.
type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger { return Logger{L: l.Named("gencache")} }

func (z Logger) Debug(msg string, f gencache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f gencache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f gencache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f gencache.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f gencache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
