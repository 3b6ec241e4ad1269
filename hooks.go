package gencache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: batch hooks run on the
// batch goroutine, transport hooks on connection goroutines.
type Hooks interface {
	// A batch committed. changed/expired are the sizes of the broadcast sets.
	BatchCommitted(generation uint64, changed, expired int, took time.Duration)

	// A batch failed and its pending work was put back.
	BatchFailed(generation uint64, err error)

	// A sweep halved the generation from -> to and deleted expired rows.
	Swept(from, to uint64, expired int)

	// A touch arrived for a key with no row (expired between fetch and batch).
	StrayTouch(key string)

	// A client sent something the transport could not decode or route.
	// reason ∈ {"decode", "unknown_kind", "empty_key", "bad_value"}
	ProtocolError(clientID, reason string)

	// The transport dropped a client. reason ∈ {"backlog", "send_error"}
	ClientDropped(clientID, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) BatchCommitted(uint64, int, int, time.Duration) {}
func (NopHooks) BatchFailed(uint64, error)                      {}
func (NopHooks) Swept(uint64, uint64, int)                      {}
func (NopHooks) StrayTouch(string)                              {}
func (NopHooks) ProtocolError(string, string)                   {}
func (NopHooks) ClientDropped(string, string)                   {}

// MultiHooks fans every event out to each element in order.
type MultiHooks []Hooks

func (m MultiHooks) BatchCommitted(g uint64, changed, expired int, took time.Duration) {
	for _, h := range m {
		h.BatchCommitted(g, changed, expired, took)
	}
}

func (m MultiHooks) BatchFailed(g uint64, err error) {
	for _, h := range m {
		h.BatchFailed(g, err)
	}
}

func (m MultiHooks) Swept(from, to uint64, expired int) {
	for _, h := range m {
		h.Swept(from, to, expired)
	}
}

func (m MultiHooks) StrayTouch(key string) {
	for _, h := range m {
		h.StrayTouch(key)
	}
}

func (m MultiHooks) ProtocolError(clientID, reason string) {
	for _, h := range m {
		h.ProtocolError(clientID, reason)
	}
}

func (m MultiHooks) ClientDropped(clientID, reason string) {
	for _, h := range m {
		h.ClientDropped(clientID, reason)
	}
}
