// Package bigcache is an in-process gencache store backed by allegro/bigcache.
// Rows live as wire-framed blobs; the generation counter lives beside them.
// Nothing survives a restart, so this backend suits tests, single-process
// deployments, and caches that are cheap to refill.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/gencache/internal/overlay"
	"github.com/unkn0wn-root/gencache/internal/wire"
	"github.com/unkn0wn-root/gencache/store"
)

// rows must never age out on their own; gencache does its own expiry.
const neverExpire = 100 * 365 * 24 * time.Hour

// ErrFull is returned by Commit when the transaction would take the store
// past Config.MaxRows. Nothing of the transaction is applied.
var ErrFull = errors.New("bigcache: store full")

// Config sizes the underlying bigcache. Its HardMaxCacheSize is never set,
// since a capped bigcache evicts rows on Set; MaxRows bounds the store instead.
type Config struct {
	Shards             int // power of two; 0 => 16
	MaxEntriesInWindow int // sizing hint; 0 => 1024
	MaxEntrySize       int // sizing hint in bytes; 0 => 256
	MaxRows            int // 0 = unlimited
}

type Store struct {
	c       *bc.BigCache
	maxRows int

	// mu serializes commits and guards gen.
	mu  sync.Mutex
	gen uint64

	closeOnce sync.Once
	closeErr  error
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(neverExpire)
	conf.CleanWindow = 0
	conf.Verbose = false
	conf.Shards = 16
	conf.MaxEntriesInWindow = 1024
	conf.MaxEntrySize = 256
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("bigcache: %w", err)
	}
	return &Store{c: c, maxRows: cfg.MaxRows}, nil
}

func (s *Store) Get(_ context.Context, key string) (store.Record, bool, error) {
	return s.get(key)
}

func (s *Store) get(key string) (store.Record, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	gen, v, err := wire.DecodeRecord(b)
	if err != nil {
		return store.Record{}, false, fmt.Errorf("bigcache: key %q: %w", key, err)
	}
	return store.Record{Value: append([]byte(nil), v...), Gen: gen}, true, nil
}

func (s *Store) keys() ([]string, error) {
	it := s.c.Iterator()
	var out []string
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			// entry removed while iterating
			if errors.Is(err, bc.ErrInvalidIteratorState) || errors.Is(err, bc.ErrCannotRetrieveEntry) {
				continue
			}
			return nil, err
		}
		out = append(out, e.Key())
	}
	return out, nil
}

func (s *Store) Begin(_ context.Context) (store.Tx, error) {
	return &tx{s: s, buf: overlay.New()}, nil
}

func (s *Store) Close(_ context.Context) error {
	s.closeOnce.Do(func() { s.closeErr = s.c.Close() })
	return s.closeErr
}

// Len reports the number of committed rows.
func (s *Store) Len() int { return s.c.Len() }

type tx struct {
	s    *Store
	buf  *overlay.Buffer
	done bool
}

func (t *tx) Get(_ context.Context, key string) (store.Record, bool, error) {
	if t.done {
		return store.Record{}, false, store.ErrTxDone
	}
	if rec, found, buffered := t.buf.Lookup(key); buffered {
		return rec, found, nil
	}
	return t.s.get(key)
}

func (t *tx) Put(_ context.Context, key string, rec store.Record) error {
	if t.done {
		return store.ErrTxDone
	}
	t.buf.Put(key, rec)
	return nil
}

func (t *tx) Delete(_ context.Context, key string) error {
	if t.done {
		return store.ErrTxDone
	}
	t.buf.Delete(key)
	return nil
}

func (t *tx) Scan(_ context.Context) (store.Cursor, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	committed, err := t.s.keys()
	if err != nil {
		return nil, fmt.Errorf("bigcache: scan: %w", err)
	}
	load := func(_ context.Context, keys []string) (map[string]store.Record, error) {
		out := make(map[string]store.Record, len(keys))
		for _, k := range keys {
			rec, ok, err := t.s.get(k)
			if err != nil {
				return nil, err
			}
			if ok {
				out[k] = rec
			}
		}
		return out, nil
	}
	return overlay.NewCursor(t.buf.Merge(committed), t.buf, load, t), nil
}

func (t *tx) Generation(_ context.Context) (uint64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	if g, ok := t.buf.Generation(); ok {
		return g, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.gen, nil
}

func (t *tx) SetGeneration(_ context.Context, gen uint64) error {
	if t.done {
		return store.ErrTxDone
	}
	t.buf.SetGeneration(gen)
	return nil
}

// Commit applies buffered writes. bigcache has no multi-key transactions; the
// row limit is checked before anything is written, so ErrFull leaves the
// store untouched.
func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.maxRows > 0 {
		if n := t.s.c.Len() + t.growth(); n > t.s.maxRows {
			return fmt.Errorf("%w: %d rows > %d", ErrFull, n, t.s.maxRows)
		}
	}
	err := t.buf.Each(func(key string, rec store.Record, deleted bool) error {
		if deleted {
			if err := t.s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
				return err
			}
			return nil
		}
		return t.s.c.Set(key, wire.EncodeRecord(rec.Gen, rec.Value))
	})
	if err != nil {
		return fmt.Errorf("bigcache: commit: %w", err)
	}
	if g, ok := t.buf.Generation(); ok {
		t.s.gen = g
	}
	return nil
}

// growth is the net change in row count the buffered writes would cause.
// Called with s.mu held.
func (t *tx) growth() int {
	n := 0
	_ = t.buf.Each(func(key string, _ store.Record, deleted bool) error {
		_, err := t.s.c.Get(key)
		exists := err == nil
		switch {
		case deleted && exists:
			n--
		case !deleted && !exists:
			n++
		}
		return nil
	})
	return n
}

func (t *tx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}
