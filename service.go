package gencache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	c "github.com/unkn0wn-root/gencache/codec"
	"github.com/unkn0wn-root/gencache/internal/batcher"
	"github.com/unkn0wn-root/gencache/store"
)

const tracerName = "github.com/unkn0wn-root/gencache"

// Service is the cache service. All store mutations happen inside batches,
// which never overlap; fetch reads go straight to the store.
type Service[V any] struct {
	name      string
	store     store.Store
	codec     c.Codec[V]
	threshold uint64
	log       Logger
	hooks     Hooks
	tracer    trace.Tracer
	release   func(context.Context) error

	// gen mirrors the committed generation. Only the batch writes it.
	gen     atomic.Uint64
	pending *pending[V]
	clients *registry[V]
	batches *batcher.Batcher

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	committed atomic.Uint64
	failed    atomic.Uint64
	sweeps    atomic.Uint64
}

func newService[V any](ctx context.Context, opts Options[V]) (*Service[V], error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	if opts.Threshold == 1 {
		return nil, ErrInvalidThreshold
	}

	var codec c.Codec[V] = c.JSON[V]{}
	if opts.Codec != nil {
		codec = opts.Codec
	}
	var log Logger = NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	var hooks Hooks = NopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	s := &Service[V]{
		name:      coalesce(opts.Name, DefaultName),
		store:     opts.Store,
		codec:     codec,
		threshold: coalesce(opts.Threshold, DefaultThreshold),
		log:       log,
		hooks:     hooks,
		tracer:    tp.Tracer(tracerName),
		pending:   newPending[V](),
		clients:   newRegistry[V](),
	}

	if opts.Claimer != nil {
		release, err := opts.Claimer.Claim(ctx, s.name)
		if err != nil {
			return nil, fmt.Errorf("gencache: claim %q: %w", s.name, err)
		}
		s.release = release
	}

	gen, err := loadGeneration(ctx, s.store)
	if err != nil {
		if s.release != nil {
			_ = s.release(ctx)
		}
		return nil, fmt.Errorf("gencache: load generation: %w", err)
	}
	s.gen.Store(gen)
	s.batches = batcher.New(context.WithoutCancel(ctx), s.runBatch)

	s.log.Info("gencache: service started", Fields{
		"name": s.name, "generation": gen, "threshold": s.threshold,
	})
	return s, nil
}

func loadGeneration(ctx context.Context, st store.Store) (uint64, error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	return tx.Generation(ctx)
}

// OnConnect registers cl and schedules a generation advance.
func (s *Service[V]) OnConnect(cl Client[V]) *batcher.Run {
	if s.closed.Load() {
		return batcher.Failed(ErrClosed)
	}
	s.clients.add(cl)
	s.pending.markAdvance()
	s.log.Debug("gencache: client connected", Fields{"client": cl.ID()})
	return s.batches.Request()
}

// OnDisconnect deregisters cl. Pending work it submitted is kept.
func (s *Service[V]) OnDisconnect(cl Client[V]) {
	s.clients.remove(cl)
	s.log.Debug("gencache: client disconnected", Fields{"client": cl.ID()})
}

// OnFetch answers cl straight from the store with the entries that exist,
// as one Updated notification, then records a touch for every requested key.
// Missing keys are left out of the answer. The answer can predate a write
// that is about to commit; that write's batch broadcasts the newer value.
//
// A store read error is returned and nothing is touched.
func (s *Service[V]) OnFetch(ctx context.Context, cl Client[V], keys []string) (*batcher.Run, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	keys = uniqueKeys(keys)

	entries := make([]Entry[V], 0, len(keys))
	for _, k := range keys {
		rec, ok, err := s.store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("gencache: fetch %q: %w", k, err)
		}
		if !ok {
			continue
		}
		v, err := s.codec.Decode(rec.Value)
		if err != nil {
			s.log.Warn("gencache: fetch: undecodable value", Fields{"key": k, "err": err})
			continue
		}
		entries = append(entries, Entry[V]{Key: k, Value: v})
	}
	if len(entries) > 0 && cl != nil {
		cl.Send(Notification[V]{Kind: Updated, Entries: entries})
	}

	s.pending.touch(keys)
	return s.batches.Request(), nil
}

// OnUpdate queues entries as writes for the next batch. Within one batch the
// last write to a key wins. Entries with an empty key or a value the codec
// rejects are logged and dropped. cl may be nil for writes that do not come
// from a connected client.
func (s *Service[V]) OnUpdate(cl Client[V], entries []Entry[V]) *batcher.Run {
	if s.closed.Load() {
		return batcher.Failed(ErrClosed)
	}
	for _, e := range entries {
		if e.Key == "" {
			s.rejectUpdate(cl, e.Key, "empty_key", nil)
			continue
		}
		raw, err := s.codec.Encode(e.Value)
		if err != nil {
			s.rejectUpdate(cl, e.Key, "bad_value", err)
			continue
		}
		s.pending.write(e.Key, e.Value, raw)
	}
	return s.batches.Request()
}

func (s *Service[V]) rejectUpdate(cl Client[V], key, reason string, err error) {
	id := clientID(cl)
	s.hooks.ProtocolError(id, reason)
	f := Fields{"client": id, "key": key, "reason": reason}
	if err != nil {
		f["err"] = err
	}
	s.log.Warn("gencache: update entry dropped", f)
}

// Flush runs a batch and waits for it.
func (s *Service[V]) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.batches.Request().Wait(ctx)
}

func (s *Service[V]) Stats() Stats {
	n, adv := s.pending.len()
	return Stats{
		Name:       s.name,
		Generation: s.gen.Load(),
		Threshold:  s.threshold,
		Clients:    s.clients.len(),
		Pending:    n,
		Advance:    adv,
		Runs:       s.batches.Runs(),
		Committed:  s.committed.Load(),
		Failed:     s.failed.Load(),
		Sweeps:     s.sweeps.Load(),
	}
}

// Close stops accepting work, drains what is pending in one last batch,
// releases the store claim and closes the store.
func (s *Service[V]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		var errs []error
		if err := s.batches.Request().Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final batch: %w", err))
		}
		if err := s.batches.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.release != nil {
			if err := s.release(ctx); err != nil {
				errs = append(errs, fmt.Errorf("release claim: %w", err))
			}
		}
		if err := s.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.log.Info("gencache: service closed", Fields{"name": s.name, "generation": s.gen.Load()})
	})
	return s.closeErr
}

// runBatch is the batcher body.
func (s *Service[V]) runBatch(ctx context.Context) error {
	in := s.pending.take()
	if in.empty() {
		return nil
	}

	start := time.Now()
	from := s.gen.Load()
	ctx, span := s.tracer.Start(ctx, "gencache.batch", trace.WithAttributes(
		attribute.Int64("gencache.generation", int64(from)),
		attribute.Int("gencache.pending", len(in.items)),
		attribute.Bool("gencache.advance", in.advance),
	))
	defer span.End()

	res, err := s.apply(ctx, in, from)
	if err != nil {
		s.pending.restore(in)
		s.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		s.hooks.BatchFailed(from, err)
		s.log.Error("gencache: batch failed", Fields{
			"generation": from, "pending": len(in.items), "err": err,
		})
		return err
	}

	s.gen.Store(res.gen)
	s.committed.Add(1)
	if res.swept {
		s.sweeps.Add(1)
		s.hooks.Swept(from, res.gen, len(res.expired))
	}
	span.SetAttributes(
		attribute.Int64("gencache.generation.next", int64(res.gen)),
		attribute.Bool("gencache.swept", res.swept),
		attribute.Int("gencache.changed", len(res.changed)),
		attribute.Int("gencache.expired", len(res.expired)),
	)

	s.clients.broadcast(res)

	took := time.Since(start)
	s.hooks.BatchCommitted(res.gen, len(res.changed), len(res.expired), took)
	s.log.Debug("gencache: batch committed", Fields{
		"generation": res.gen, "swept": res.swept,
		"changed": len(res.changed), "expired": len(res.expired), "took": took,
	})
	return nil
}

// apply runs in's work in one transaction and returns what to broadcast.
func (s *Service[V]) apply(ctx context.Context, in batchInput[V], from uint64) (*batchResult[V], error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, &BatchError{Generation: from, Err: fmt.Errorf("begin: %w", err)}
	}

	res, err := s.applyTx(ctx, tx, in, from)
	if err == nil {
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit: %w", err)
		}
	}
	if err != nil {
		be := &BatchError{Generation: from, Err: err}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, store.ErrTxDone) {
			be.RollbackErr = rbErr
		}
		return nil, be
	}
	return res, nil
}

func (s *Service[V]) applyTx(ctx context.Context, tx store.Tx, in batchInput[V], from uint64) (*batchResult[V], error) {
	// the sweep consumes keys; in.items must survive for restore
	items := maps.Clone(in.items)
	res := newBatchResult[V]()
	res.gen = from

	// a row stamped 0 would be deleted by the very next sweep
	if in.advance || (from == 0 && len(items) > 0) {
		next, swept := advance(from, s.threshold)
		if err := tx.SetGeneration(ctx, next); err != nil {
			return nil, fmt.Errorf("set generation: %w", err)
		}
		if swept {
			if err := sweep(ctx, tx, next, items, res); err != nil {
				return nil, err
			}
			res.swept = true
		}
		res.gen = next
	}

	for _, k := range slices.Sorted(maps.Keys(items)) {
		it := items[k]
		if it.set {
			if err := tx.Put(ctx, k, store.Record{Value: it.raw, Gen: res.gen}); err != nil {
				return nil, fmt.Errorf("put %q: %w", k, err)
			}
			res.changed[k] = it.value
			continue
		}

		rec, ok, err := tx.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", k, err)
		}
		if !ok {
			s.hooks.StrayTouch(k)
			s.log.Warn("gencache: touch for missing key discarded", Fields{"key": k, "generation": res.gen})
			continue
		}
		rec.Gen = res.gen
		if err := tx.Put(ctx, k, rec); err != nil {
			return nil, fmt.Errorf("touch %q: %w", k, err)
		}
	}
	return res, nil
}

func uniqueKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clientID[V any](cl Client[V]) string {
	if cl == nil {
		return ""
	}
	return cl.ID()
}
