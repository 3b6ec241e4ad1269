package gencache

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	c "github.com/unkn0wn-root/gencache/codec"
	"github.com/unkn0wn-root/gencache/store"
)

// Entry is one key/value pair as seen by clients.
type Entry[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
}

// Kind discriminates notifications.
type Kind uint8

const (
	// Updated carries new or changed values, or a fetch answer.
	Updated Kind = iota + 1
	// Expired carries keys deleted by a sweep.
	Expired
)

func (k Kind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Notification is a service->client message. Updated notifications fill
// Entries, Expired ones fill Keys. Both are sorted by key. Notifications
// handed to Send are shared between clients and must not be modified.
type Notification[V any] struct {
	Kind    Kind
	Entries []Entry[V]
	Keys    []string
}

// Client is one connected consumer.
type Client[V any] interface {
	// ID must be unique among connected clients. Implementations must be
	// comparable; use a pointer receiver.
	ID() string
	// Send queues n for delivery. It must not block; a client that cannot
	// keep up is the transport's problem, not the batch's.
	Send(n Notification[V])
}

// Claimer grants exclusive ownership of a store name. The service claims
// Options.Name in New and calls release from Close.
type Claimer interface {
	Claim(ctx context.Context, name string) (release func(context.Context) error, err error)
}

// Options configure a Service. Only Store is required.
type Options[V any] struct {
	Store store.Store
	Codec c.Codec[V] // nil => codec.JSON[V]

	// Threshold is the generation at which an advance sweeps. 0 => 4.
	Threshold uint64

	Name    string  // logical store name; "" => "gencache"
	Claimer Claimer // nil => no ownership check

	Logger         Logger               // nil => NopLogger
	Hooks          Hooks                // nil => NopHooks
	TracerProvider trace.TracerProvider // nil => otel global provider
}

// Stats is a point-in-time view of a Service.
type Stats struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	Threshold  uint64 `json:"threshold"`
	Clients    int    `json:"clients"`
	Pending    int    `json:"pending"`
	Advance    bool   `json:"advance_pending"`
	Runs       uint64 `json:"runs"`
	Committed  uint64 `json:"committed"`
	Failed     uint64 `json:"failed"`
	Sweeps     uint64 `json:"sweeps"`
}

// New loads the persisted generation from opts.Store and returns a running
// Service. The store must already have its tables in place; the store
// constructors create them.
func New[V any](ctx context.Context, opts Options[V]) (*Service[V], error) {
	return newService(ctx, opts)
}
