package gencache

import "sync"

// pendingItem is a write when set, otherwise a touch.
type pendingItem[V any] struct {
	value V
	raw   []byte
	set   bool
}

// batchInput is what one batch drains from the accumulator.
type batchInput[V any] struct {
	items   map[string]pendingItem[V]
	advance bool
}

func (b batchInput[V]) empty() bool { return !b.advance && len(b.items) == 0 }

// pending accumulates work for the next batch.
type pending[V any] struct {
	mu      sync.Mutex
	items   map[string]pendingItem[V]
	advance bool
}

func newPending[V any]() *pending[V] {
	return &pending[V]{items: make(map[string]pendingItem[V])}
}

func (p *pending[V]) markAdvance() {
	p.mu.Lock()
	p.advance = true
	p.mu.Unlock()
}

// touch marks keys as read unless they already carry a write.
func (p *pending[V]) touch(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		if _, ok := p.items[k]; !ok {
			p.items[k] = pendingItem[V]{}
		}
	}
}

// write records value for key; the last write before a batch wins.
func (p *pending[V]) write(key string, value V, raw []byte) {
	p.mu.Lock()
	p.items[key] = pendingItem[V]{value: value, raw: raw, set: true}
	p.mu.Unlock()
}

// take hands everything accumulated so far to a batch and starts afresh.
func (p *pending[V]) take() batchInput[V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	in := batchInput[V]{items: p.items, advance: p.advance}
	p.items = make(map[string]pendingItem[V])
	p.advance = false
	return in
}

// restore puts a failed batch's input back. Work that arrived while the
// batch ran is newer and wins, except that a newer touch never hides an
// older write.
func (p *pending[V]) restore(in batchInput[V]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance = p.advance || in.advance
	for k, old := range in.items {
		cur, ok := p.items[k]
		if !ok || (!cur.set && old.set) {
			p.items[k] = old
		}
	}
}

func (p *pending[V]) len() (n int, advance bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items), p.advance
}
