package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/gencache"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	h := stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{
		Level: stdslog.LevelInfo,
		ReplaceAttr: func(_ []string, a stdslog.Attr) stdslog.Attr {
			if a.Key == stdslog.TimeKey {
				return stdslog.Attr{}
			}
			return a
		},
	})
	l := New(stdslog.New(h))

	l.Debug("hidden", gencache.Fields{"k": 1})
	l.Warn("batch failed", gencache.Fields{"pending": 2, "generation": 7})

	got := strings.TrimSpace(buf.String())
	want := `level=WARN msg="batch failed" gencache.generation=7 gencache.pending=2`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}
