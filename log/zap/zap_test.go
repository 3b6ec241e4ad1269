package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/gencache"
)

func TestLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Info("i", gencache.Fields{"generation": uint64(3)})
	l.Warn("w", gencache.Fields{"key": "a"})
	l.Error("e", gencache.Fields{"err": errors.New("boom")})

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("got %d entries", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, wantLevels[i])
		}
		if e.LoggerName != "gencache" {
			t.Errorf("entry %d logger = %q", i, e.LoggerName)
		}
	}
	if got := entries[1].ContextMap()["generation"]; got != uint64(3) {
		t.Errorf("generation field = %v", got)
	}
	if got := entries[3].ContextMap()["error"]; got != "boom" {
		t.Errorf("err field = %v, want zap.Error rendering", got)
	}
}
