package transport

import (
	"sync"

	"github.com/unkn0wn-root/gencache"
)

// client is the service-side handle for one Session stream. Send only
// queues; pump drains the queue onto the stream. A client whose queue
// exceeds max is cut off instead of slowing anyone else down.
type client[V any] struct {
	id  string
	max int

	mu     sync.Mutex
	queue  []gencache.Notification[V]
	closed bool
	wake   chan struct{}
	done   chan struct{}
	reason string
}

var _ gencache.Client[struct{}] = (*client[struct{}])(nil)

func newClient[V any](id string, limit int) *client[V] {
	return &client[V]{
		id:   id,
		max:  limit,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (c *client[V]) ID() string { return c.id }

func (c *client[V]) Send(n gencache.Notification[V]) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.max > 0 && len(c.queue) >= c.max {
		c.closeLocked("backlog")
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, n)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// close stops delivery. The first reason wins.
func (c *client[V]) close(reason string) {
	c.mu.Lock()
	c.closeLocked(reason)
	c.mu.Unlock()
}

func (c *client[V]) closeLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	c.queue = nil
	close(c.done)
}

func (c *client[V]) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *client[V]) backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// next blocks until notifications are queued or the client is closed, and
// returns everything queued so far in order.
func (c *client[V]) next() ([]gencache.Notification[V], bool) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, false
		}
		if len(c.queue) > 0 {
			q := c.queue
			c.queue = nil
			c.mu.Unlock()
			return q, true
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.done:
		}
	}
}
