// Package redis is a gencache store kept in two Redis hashes:
//
//	<ns>:cache    field=key, value=wire-framed row
//	<ns>:options  field "generation", decimal counter
//
// A Tx buffers its writes and commits them in a single MULTI/EXEC.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/gencache/internal/overlay"
	"github.com/unkn0wn-root/gencache/internal/wire"
	"github.com/unkn0wn-root/gencache/store"
)

const generationField = "generation"

var (
	ErrNilClient   = errors.New("redis store: nil client")
	ErrNoNamespace = errors.New("redis store: namespace is required")
)

type Config struct {
	Client      goredis.UniversalClient
	Namespace   string // logical store name, e.g. "favicons"
	CloseClient bool   // set true only if this store exclusively owns the client
}

type Store struct {
	rdb         goredis.UniversalClient
	cacheKey    string
	optionsKey  string
	closeClient bool
}

var _ store.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Namespace == "" {
		return nil, ErrNoNamespace
	}
	return &Store{
		rdb:         cfg.Client,
		cacheKey:    cfg.Namespace + ":cache",
		optionsKey:  cfg.Namespace + ":options",
		closeClient: cfg.CloseClient,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Record, bool, error) {
	b, err := s.rdb.HGet(ctx, s.cacheKey, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	rec, err := decode(key, b)
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) getMany(ctx context.Context, keys []string) (map[string]store.Record, error) {
	vals, err := s.rdb.HMGet(ctx, s.cacheKey, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Record, len(keys))
	for i, v := range vals {
		var b []byte
		switch vv := v.(type) {
		case nil:
			continue
		case string:
			b = []byte(vv)
		case []byte:
			b = vv
		default:
			return nil, fmt.Errorf("redis store: unexpected HMGET value %T at %q", v, keys[i])
		}
		rec, err := decode(keys[i], b)
		if err != nil {
			return nil, err
		}
		out[keys[i]] = rec
	}
	return out, nil
}

func (s *Store) generation(ctx context.Context) (uint64, error) {
	res, err := s.rdb.HGet(ctx, s.optionsKey, generationField).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	g, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis store: generation parse: %w", err)
	}
	return g, nil
}

func decode(key string, b []byte) (store.Record, error) {
	gen, v, err := wire.DecodeRecord(b)
	if err != nil {
		return store.Record{}, fmt.Errorf("redis store: key %q: %w", key, err)
	}
	return store.Record{Value: append([]byte(nil), v...), Gen: gen}, nil
}

func (s *Store) Begin(_ context.Context) (store.Tx, error) {
	return &tx{s: s, buf: overlay.New()}, nil
}

// Close releases the underlying client only when this store owns it.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type tx struct {
	s    *Store
	buf  *overlay.Buffer
	done bool
}

func (t *tx) Get(ctx context.Context, key string) (store.Record, bool, error) {
	if t.done {
		return store.Record{}, false, store.ErrTxDone
	}
	if rec, found, buffered := t.buf.Lookup(key); buffered {
		return rec, found, nil
	}
	return t.s.Get(ctx, key)
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

func (t *tx) Scan(ctx context.Context) (store.Cursor, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	committed, err := t.s.rdb.HKeys(ctx, t.s.cacheKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: scan: %w", err)
	}
	return overlay.NewCursor(t.buf.Merge(committed), t.buf, t.s.getMany, t), nil
}

func (t *tx) Generation(ctx context.Context) (uint64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	if g, ok := t.buf.Generation(); ok {
		return g, nil
	}
	return t.s.generation(ctx)
}

func (t *tx) SetGeneration(_ context.Context, gen uint64) error {
	if t.done {
		return store.ErrTxDone
	}
	t.buf.SetGeneration(gen)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if t.buf.Empty() {
		return nil
	}
	_, err := t.s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		_ = t.buf.Each(func(key string, rec store.Record, deleted bool) error {
			if deleted {
				p.HDel(ctx, t.s.cacheKey, key)
			} else {
				p.HSet(ctx, t.s.cacheKey, key, wire.EncodeRecord(rec.Gen, rec.Value))
			}
			return nil
		})
		if g, ok := t.buf.Generation(); ok {
			p.HSet(ctx, t.s.optionsKey, generationField, strconv.FormatUint(g, 10))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	return nil
}
