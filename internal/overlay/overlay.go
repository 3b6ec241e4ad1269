// Package overlay buffers the writes of a store transaction until commit.
// Blob-oriented backends (bigcache, redis) keep committed rows elsewhere and
// use a Buffer to give the open Tx read-your-writes semantics plus a Cursor
// that walks committed and buffered rows in key order.
package overlay

import (
	"context"
	"sort"

	"github.com/unkn0wn-root/gencache/store"
)

type op struct {
	rec     store.Record
	deleted bool
}

// Buffer holds the pending writes of one transaction. Not safe for
// concurrent use; a Tx is owned by a single batch.
type Buffer struct {
	ops    map[string]op
	gen    uint64
	genSet bool
}

func New() *Buffer { return &Buffer{ops: make(map[string]op)} }

func (b *Buffer) Put(key string, rec store.Record) {
	b.ops[key] = op{rec: clone(rec)}
}

func (b *Buffer) Delete(key string) {
	b.ops[key] = op{deleted: true}
}

// Lookup reports whether key was written in this transaction. When buffered
// is false the caller must consult the committed table.
func (b *Buffer) Lookup(key string) (rec store.Record, found, buffered bool) {
	o, ok := b.ops[key]
	if !ok {
		return store.Record{}, false, false
	}
	if o.deleted {
		return store.Record{}, false, true
	}
	return clone(o.rec), true, true
}

func (b *Buffer) SetGeneration(gen uint64) {
	b.gen = gen
	b.genSet = true
}

// Generation returns the buffered generation, if one was set.
func (b *Buffer) Generation() (uint64, bool) { return b.gen, b.genSet }

// Empty reports whether the transaction wrote nothing.
func (b *Buffer) Empty() bool { return len(b.ops) == 0 && !b.genSet }

// Merge returns the sorted union of the committed keys and buffered puts,
// minus buffered deletes.
func (b *Buffer) Merge(committed []string) []string {
	seen := make(map[string]struct{}, len(committed)+len(b.ops))
	out := make([]string, 0, len(committed)+len(b.ops))
	for _, k := range committed {
		if o, ok := b.ops[k]; ok && o.deleted {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for k, o := range b.ops {
		if o.deleted {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Each visits buffered writes in key order. deleted reports a Delete.
func (b *Buffer) Each(fn func(key string, rec store.Record, deleted bool) error) error {
	keys := make([]string, 0, len(b.ops))
	for k := range b.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		o := b.ops[k]
		if err := fn(k, o.rec, o.deleted); err != nil {
			return err
		}
	}
	return nil
}

func clone(r store.Record) store.Record {
	if r.Value != nil {
		r.Value = append([]byte(nil), r.Value...)
	}
	return r
}

// LoadFunc fetches committed rows for keys; missing keys are omitted.
type LoadFunc func(ctx context.Context, keys []string) (map[string]store.Record, error)

// Writer receives in-place cursor mutations; normally the owning Tx.
type Writer interface {
	Put(ctx context.Context, key string, rec store.Record) error
	Delete(ctx context.Context, key string) error
}

const pageSize = 128

// Cursor walks a sorted key snapshot, loading rows a page at a time. Rows
// buffered in b shadow the committed rows returned by load.
type Cursor struct {
	keys []string
	b    *Buffer
	load LoadFunc
	w    Writer

	page    map[string]store.Record
	pageEnd int
	next    int

	key    string
	rec    store.Record
	onRow  bool
	err    error
	closed bool
}

var _ store.Cursor = (*Cursor)(nil)

// NewCursor builds a cursor over keys, which must already be sorted.
func NewCursor(keys []string, b *Buffer, load LoadFunc, w Writer) *Cursor {
	return &Cursor{keys: keys, b: b, load: load, w: w}
}

func (c *Cursor) Next(ctx context.Context) bool {
	c.onRow = false
	if c.closed || c.err != nil {
		return false
	}
	for c.next < len(c.keys) {
		if c.next >= c.pageEnd {
			if err := c.fill(ctx); err != nil {
				c.err = err
				return false
			}
		}
		k := c.keys[c.next]
		c.next++
		if rec, found, buffered := c.b.Lookup(k); buffered {
			if !found {
				continue
			}
			c.key, c.rec, c.onRow = k, rec, true
			return true
		}
		rec, ok := c.page[k]
		if !ok {
			// removed after the key snapshot was taken
			continue
		}
		c.key, c.rec, c.onRow = k, rec, true
		return true
	}
	return false
}

func (c *Cursor) fill(ctx context.Context) error {
	end := c.next + pageSize
	if end > len(c.keys) {
		end = len(c.keys)
	}
	want := make([]string, 0, end-c.next)
	for _, k := range c.keys[c.next:end] {
		if _, _, buffered := c.b.Lookup(k); !buffered {
			want = append(want, k)
		}
	}
	page := map[string]store.Record{}
	if len(want) > 0 {
		var err error
		if page, err = c.load(ctx, want); err != nil {
			return err
		}
	}
	c.page, c.pageEnd = page, end
	return nil
}

func (c *Cursor) Key() string          { return c.key }
func (c *Cursor) Record() store.Record { return clone(c.rec) }

func (c *Cursor) Update(ctx context.Context, rec store.Record) error {
	if !c.onRow {
		return store.ErrCursorDone
	}
	c.rec = clone(rec)
	return c.w.Put(ctx, c.key, rec)
}

func (c *Cursor) Delete(ctx context.Context) error {
	if !c.onRow {
		return store.ErrCursorDone
	}
	c.onRow = false
	return c.w.Delete(ctx, c.key)
}

func (c *Cursor) Err() error { return c.err }

func (c *Cursor) Close() error {
	c.closed = true
	c.onRow = false
	return nil
}
