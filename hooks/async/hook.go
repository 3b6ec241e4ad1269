// Package asynchook moves hook calls off the batch and connection goroutines.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StrayTouchEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	svc, _ := gencache.New(ctx, gencache.Options[Icon]{Store: st, Hooks: hooks})
//
// Events are dropped when the queue is full; Dropped counts them.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/gencache"
)

type Hooks struct {
	inner   gencache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ gencache.Hooks = (*Hooks)(nil)

func New(inner gencache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Hook calls after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) BatchCommitted(g uint64, changed, expired int, took time.Duration) {
	h.try(func() { h.inner.BatchCommitted(g, changed, expired, took) })
}
func (h *Hooks) BatchFailed(g uint64, err error) { h.try(func() { h.inner.BatchFailed(g, err) }) }
func (h *Hooks) Swept(from, to uint64, n int)    { h.try(func() { h.inner.Swept(from, to, n) }) }
func (h *Hooks) StrayTouch(key string)           { h.try(func() { h.inner.StrayTouch(key) }) }
func (h *Hooks) ProtocolError(id, reason string) { h.try(func() { h.inner.ProtocolError(id, reason) }) }
func (h *Hooks) ClientDropped(id, reason string) { h.try(func() { h.inner.ClientDropped(id, reason) }) }
