// Package store defines the persistence abstraction used by gencache.
//
// A Store holds two logical tables: the cache table, mapping a key to its
// encoded value and access generation, and the options table, which holds the
// single persisted generation counter. All mutations go through a Tx; gencache
// only ever has one Tx open at a time, so implementations need no row locking,
// but they must make Commit atomic: either every Put/Delete/SetGeneration of
// the Tx becomes visible, or none of them does.
//
// Values are opaque to the store. They arrive already encoded by the service
// codec and must be returned byte-for-byte.
package store

import (
	"context"
	"errors"
)

var (
	// ErrTxDone is returned by operations on a committed or rolled back Tx.
	ErrTxDone = errors.New("store: transaction already finished")
	// ErrCursorDone is returned by Update/Delete when the cursor is not
	// positioned on a row.
	ErrCursorDone = errors.New("store: cursor not positioned on a row")
)

// Record is one row of the cache table.
type Record struct {
	Value []byte
	Gen   uint64
}

// Store is the persistent key/value store behind a gencache service.
// Must be safe for concurrent use: Get may run concurrently with an open Tx.
type Store interface {
	// Get reads the committed row for key outside of any transaction.
	// Returns (rec, true, nil) on hit and (Record{}, false, nil) on miss.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Tx is a unit of work over both tables.
type Tx interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
	Delete(ctx context.Context, key string) error

	// Scan opens a cursor over the cache table in ascending key order. The
	// cursor sees writes made earlier in the same Tx.
	Scan(ctx context.Context) (Cursor, error)

	// Generation returns the persisted generation; missing => 0.
	Generation(ctx context.Context) (uint64, error)
	SetGeneration(ctx context.Context, gen uint64) error

	Commit(ctx context.Context) error
	// Rollback discards the Tx. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// Cursor walks the cache table in key order.
//
//	cur, err := tx.Scan(ctx)
//	...
//	defer cur.Close()
//	for cur.Next(ctx) {
//		rec := cur.Record()
//		rec.Gen /= 2
//		if err := cur.Update(ctx, rec); err != nil { ... }
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor interface {
	Next(ctx context.Context) bool
	Key() string
	Record() Record
	// Update replaces the current row in place.
	Update(ctx context.Context, rec Record) error
	// Delete removes the current row.
	Delete(ctx context.Context) error
	Err() error
	Close() error
}
