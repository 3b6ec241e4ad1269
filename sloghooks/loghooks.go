// Package sloghooks logs gencache hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/gencache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StrayTouchEvery    uint64
	ProtocolErrorEvery uint64
	// Log every committed batch at Debug. Off by default; busy services
	// commit constantly.
	LogCommits bool
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	strayCtr    atomic.Uint64
	protocolCtr atomic.Uint64
}

var _ gencache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n <= 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) BatchCommitted(gen uint64, changed, expired int, took time.Duration) {
	if h.l == nil || !h.opts.LogCommits {
		return
	}
	h.l.Debug("gencache.batch_committed",
		"generation", gen,
		"changed", changed,
		"expired", expired,
		"took", took)
}

func (h *Hooks) BatchFailed(gen uint64, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("gencache.batch_failed",
		"generation", gen,
		"err", err)
}

func (h *Hooks) Swept(from, to uint64, expired int) {
	if h.l == nil {
		return
	}
	h.l.Info("gencache.swept",
		"from", from,
		"to", to,
		"expired", expired)
}

func (h *Hooks) StrayTouch(key string) {
	if h.l == nil || !sample(h.opts.StrayTouchEvery, &h.strayCtr) {
		return
	}
	h.l.Warn("gencache.stray_touch", "key", h.redact(key))
}

func (h *Hooks) ProtocolError(clientID, reason string) {
	if h.l == nil || !sample(h.opts.ProtocolErrorEvery, &h.protocolCtr) {
		return
	}
	h.l.Warn("gencache.protocol_error",
		"client", clientID,
		"reason", reason)
}

func (h *Hooks) ClientDropped(clientID, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("gencache.client_dropped",
		"client", clientID,
		"reason", reason)
}
