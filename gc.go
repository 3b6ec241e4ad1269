package gencache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/gencache/store"
)

// advance returns the generation that follows g under threshold t and
// whether reaching it requires a sweep.
func advance(g, t uint64) (next uint64, sweep bool) {
	if g < t {
		return g + 1, false
	}
	return g / 2, true
}

// batchResult collects what a batch will broadcast.
type batchResult[V any] struct {
	gen     uint64
	swept   bool
	changed map[string]V
	expired []string
}

func newBatchResult[V any]() *batchResult[V] {
	return &batchResult[V]{changed: make(map[string]V)}
}

// sweep walks the whole cache table. Rows with pending work are stamped gen
// and get their pending value; those keys are removed from items. Every other
// row has its generation halved and is deleted when that reaches zero.
// Expired keys are appended in scan order, which is key order.
func sweep[V any](ctx context.Context, tx store.Tx, gen uint64, items map[string]pendingItem[V], res *batchResult[V]) error {
	cur, err := tx.Scan(ctx)
	if err != nil {
		return fmt.Errorf("sweep: scan: %w", err)
	}
	defer cur.Close()

	for cur.Next(ctx) {
		key := cur.Key()
		rec := cur.Record()

		it, touched := items[key]
		if touched {
			delete(items, key)
			rec.Gen = gen
			if it.set {
				rec.Value = it.raw
			}
		} else {
			rec.Gen /= 2
		}

		if rec.Gen == 0 {
			if err := cur.Delete(ctx); err != nil {
				return fmt.Errorf("sweep: delete %q: %w", key, err)
			}
			res.expired = append(res.expired, key)
			continue
		}
		if err := cur.Update(ctx, rec); err != nil {
			return fmt.Errorf("sweep: update %q: %w", key, err)
		}
		if touched && it.set {
			res.changed[key] = it.value
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}
