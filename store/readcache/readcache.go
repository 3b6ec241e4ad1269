// Package readcache puts a ristretto cache in front of a store for the
// non-transactional reads that serve fetches.
//
// The cache is write-through only: it is filled from committed transactions
// and never from read misses. A read miss that populated the cache could race
// a concurrent commit and pin a stale row indefinitely; filling on commit
// keeps the cache no staler than the store itself.
package readcache

import (
	"context"
	"errors"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/gencache/store"
)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes of cached values
	BufferItems int64
	Metrics     bool
}

type Store struct {
	inner store.Store
	c     *rc.Cache
}

var _ store.Store = (*Store)(nil)

func New(inner store.Store, cfg Config) (*Store, error) {
	if inner == nil {
		return nil, errors.New("readcache: nil store")
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("readcache: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, c: c}, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Record, bool, error) {
	if v, ok := s.c.Get(key); ok {
		if rec, ok := v.(store.Record); ok {
			rec.Value = append([]byte(nil), rec.Value...)
			return rec, true, nil
		}
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
	}
	return s.inner.Get(ctx, key)
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{Tx: t, s: s, dirty: make(map[string]*store.Record)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.c.Close()
	return s.inner.Close(ctx)
}

// Metrics exposes ristretto hit/miss counters when Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

// tx records the keys it touched so a successful commit can refresh them.
type tx struct {
	store.Tx
	s     *Store
	dirty map[string]*store.Record // nil => deleted
}

func (t *tx) Put(ctx context.Context, key string, rec store.Record) error {
	if err := t.Tx.Put(ctx, key, rec); err != nil {
		return err
	}
	r := rec
	r.Value = append([]byte(nil), rec.Value...)
	t.dirty[key] = &r
	return nil
}

func (t *tx) Delete(ctx context.Context, key string) error {
	if err := t.Tx.Delete(ctx, key); err != nil {
		return err
	}
	t.dirty[key] = nil
	return nil
}

func (t *tx) Scan(ctx context.Context) (store.Cursor, error) {
	cur, err := t.Tx.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &cursor{Cursor: cur, t: t}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	for key, rec := range t.dirty {
		// Del first: Set on a new key is asynchronous and may be rejected,
		// which must not leave the previous value behind.
		t.s.c.Del(key)
		if rec != nil {
			t.s.c.Set(key, *rec, int64(len(rec.Value))+1)
		}
	}
	t.s.c.Wait()
	return nil
}

type cursor struct {
	store.Cursor
	t *tx
}

func (c *cursor) Update(ctx context.Context, rec store.Record) error {
	key := c.Key()
	if err := c.Cursor.Update(ctx, rec); err != nil {
		return err
	}
	r := rec
	r.Value = append([]byte(nil), rec.Value...)
	c.t.dirty[key] = &r
	return nil
}

func (c *cursor) Delete(ctx context.Context) error {
	key := c.Key()
	if err := c.Cursor.Delete(ctx); err != nil {
		return err
	}
	c.t.dirty[key] = nil
	return nil
}
