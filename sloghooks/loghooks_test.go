package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSamplingAndRedaction(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{
		StrayTouchEvery: 3,
		Redact:          func(string) string { return "***" },
	})
	for range 9 {
		h.StrayTouch("secret-key")
	}
	out := buf.String()
	if n := strings.Count(out, "gencache.stray_touch"); n != 3 {
		t.Fatalf("logged %d of 9 stray touches, want 3", n)
	}
	if strings.Contains(out, "secret-key") || !strings.Contains(out, "key=***") {
		t.Fatalf("key not redacted: %s", out)
	}
}

func TestDefaultRedactionHashes(t *testing.T) {
	h := New(nil, Options{})
	got := h.redact("a")
	if len(got) != 16 || got == "a" {
		t.Fatalf("redact = %q", got)
	}
	// nil logger is a no-op
	h.BatchFailed(1, errors.New("x"))
}

func TestCommitsOptIn(t *testing.T) {
	buf, l := newBuf()
	New(l, Options{}).BatchCommitted(1, 1, 0, 0)
	if buf.Len() != 0 {
		t.Fatalf("commit logged without LogCommits: %s", buf)
	}
	New(l, Options{LogCommits: true}).BatchCommitted(1, 1, 0, 0)
	if !strings.Contains(buf.String(), "gencache.batch_committed") {
		t.Fatalf("commit not logged: %s", buf)
	}
}
