package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/unkn0wn-root/gencache"
)

// Conn is the client end of a Session stream.
type Conn[V any] struct {
	stream grpc.ClientStream
	cancel context.CancelFunc

	sendMu sync.Mutex
}

// Open starts a Session on cc, which counts as a connect. ctx bounds the
// whole session.
func Open[V any](ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (*Conn[V], error) {
	ctx, cancel := context.WithCancel(ctx)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], sessionMethod, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: open session: %w", err)
	}
	return &Conn[V]{stream: stream, cancel: cancel}, nil
}

func (c *Conn[V]) send(f any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(f)
}

func (c *Conn[V]) Fetch(keys ...string) error {
	return c.send(&Frame{Kind: KindFetch, Keys: keys})
}

func (c *Conn[V]) Update(entries ...gencache.Entry[V]) error {
	f := &Frame{Kind: KindUpdate, Entries: make([]WireEntry, 0, len(entries))}
	for _, e := range entries {
		b, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("transport: encode %q: %w", e.Key, err)
		}
		f.Entries = append(f.Entries, WireEntry{Key: e.Key, Value: b})
	}
	return c.send(f)
}

// Recv blocks for the next notification. It must not be called
// concurrently with itself.
func (c *Conn[V]) Recv() (gencache.Notification[V], error) {
	var f Frame
	if err := c.stream.RecvMsg(&f); err != nil {
		return gencache.Notification[V]{}, err
	}
	switch f.Kind {
	case KindUpdated:
		entries, err := decodeEntries[V](f.Entries)
		if err != nil {
			return gencache.Notification[V]{}, err
		}
		return gencache.Notification[V]{Kind: gencache.Updated, Entries: entries}, nil
	case KindExpired:
		return gencache.Notification[V]{Kind: gencache.Expired, Keys: f.Keys}, nil
	default:
		return gencache.Notification[V]{}, fmt.Errorf("transport: unexpected frame kind %q", f.Kind)
	}
}

// Close ends the session, which the service sees as a disconnect.
func (c *Conn[V]) Close() error {
	c.sendMu.Lock()
	err := c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()
	return err
}
