// Package transport carries the gencache client protocol over a gRPC
// bidirectional stream, /gencache.v1.Cache/Session.
//
// Frames are JSON (content-subtype "json") so no generated code is needed:
//
//	client -> service  {"kind":"fetch","keys":["a","b"]}
//	client -> service  {"kind":"update","entries":[{"key":"a","value":...}]}
//	service -> client  {"kind":"updated","entries":[...]}
//	service -> client  {"kind":"expired","keys":["a"]}
//
// Opening the stream is a connect; its end is a disconnect.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/unkn0wn-root/gencache"
)

const (
	KindFetch   = "fetch"
	KindUpdate  = "update"
	KindUpdated = "updated"
	KindExpired = "expired"
)

// Frame is one message on the Session stream, in either direction.
type Frame struct {
	Kind    string      `json:"kind"`
	Keys    []string    `json:"keys,omitempty"`
	Entries []WireEntry `json:"entries,omitempty"`
}

// WireEntry holds a value in its JSON form.
type WireEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func encodeNotification[V any](n gencache.Notification[V]) (*Frame, error) {
	switch n.Kind {
	case gencache.Updated:
		f := &Frame{Kind: KindUpdated, Entries: make([]WireEntry, 0, len(n.Entries))}
		for _, e := range n.Entries {
			b, err := json.Marshal(e.Value)
			if err != nil {
				return nil, fmt.Errorf("transport: encode %q: %w", e.Key, err)
			}
			f.Entries = append(f.Entries, WireEntry{Key: e.Key, Value: b})
		}
		return f, nil
	case gencache.Expired:
		return &Frame{Kind: KindExpired, Keys: n.Keys}, nil
	default:
		return nil, fmt.Errorf("transport: unknown notification kind %v", n.Kind)
	}
}

func decodeEntries[V any](in []WireEntry) ([]gencache.Entry[V], error) {
	out := make([]gencache.Entry[V], 0, len(in))
	for _, we := range in {
		var v V
		if err := json.Unmarshal(we.Value, &v); err != nil {
			return nil, fmt.Errorf("transport: decode %q: %w", we.Key, err)
		}
		out = append(out, gencache.Entry[V]{Key: we.Key, Value: v})
	}
	return out, nil
}
