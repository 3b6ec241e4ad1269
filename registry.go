package gencache

import (
	"sort"
	"sync"
)

// registry holds the connected clients of one Service.
type registry[V any] struct {
	mu      sync.RWMutex
	clients map[string]Client[V]
}

func newRegistry[V any]() *registry[V] {
	return &registry[V]{clients: make(map[string]Client[V])}
}

// add registers c, replacing any client with the same ID.
func (r *registry[V]) add(c Client[V]) {
	r.mu.Lock()
	r.clients[c.ID()] = c
	r.mu.Unlock()
}

// remove deregisters c. A different client that has since taken c's ID is
// left alone.
func (r *registry[V]) remove(c Client[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[c.ID()]; ok && cur == c {
		delete(r.clients, c.ID())
	}
}

func (r *registry[V]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *registry[V]) snapshot() []Client[V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client[V], 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// broadcast sends one updated and one expired notification for res, each
// only if non-empty, to every registered client. Sends happen outside the
// lock so a client may disconnect from inside Send.
func (r *registry[V]) broadcast(res *batchResult[V]) {
	var notes []Notification[V]
	if len(res.changed) > 0 {
		notes = append(notes, Notification[V]{Kind: Updated, Entries: sortedEntries(res.changed)})
	}
	if len(res.expired) > 0 {
		keys := append([]string(nil), res.expired...)
		sort.Strings(keys)
		notes = append(notes, Notification[V]{Kind: Expired, Keys: keys})
	}
	if len(notes) == 0 {
		return
	}
	for _, c := range r.snapshot() {
		for _, n := range notes {
			c.Send(n)
		}
	}
}

func sortedEntries[V any](m map[string]V) []Entry[V] {
	out := make([]Entry[V], 0, len(m))
	for k, v := range m {
		out = append(out, Entry[V]{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
