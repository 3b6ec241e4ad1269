// Package storetest holds the behavioural checks every store backend must pass.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/unkn0wn-root/gencache/store"
)

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GenerationDefaultsToZero", testGenerationDefault},
		{"CommitMakesWritesVisible", testCommit},
		{"RollbackDiscardsWrites", testRollback},
		{"TxReadsOwnWrites", testReadOwnWrites},
		{"ScanIsOrderedAndMutable", testScan},
		{"ScanSeesBufferedWrites", testScanOverlay},
		{"FinishedTxRejectsWork", testTxDone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			tc.fn(t, s)
		})
	}
}

func begin(t *testing.T, s store.Store) store.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

func commit(t *testing.T, tx store.Tx) {
	t.Helper()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func put(t *testing.T, tx store.Tx, key string, rec store.Record) {
	t.Helper()
	if err := tx.Put(context.Background(), key, rec); err != nil {
		t.Fatalf("Put(%q): %v", key, err)
	}
}

func mustGet(t *testing.T, s store.Store, key string) (store.Record, bool) {
	t.Helper()
	rec, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return rec, ok
}

func testGenerationDefault(t *testing.T, s store.Store) {
	tx := begin(t, s)
	defer tx.Rollback(context.Background())
	g, err := tx.Generation(context.Background())
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if g != 0 {
		t.Fatalf("Generation = %d, want 0", g)
	}
}

func testCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	put(t, tx, "a", store.Record{Value: []byte(`"x"`), Gen: 3})
	if err := tx.SetGeneration(ctx, 7); err != nil {
		t.Fatalf("SetGeneration: %v", err)
	}
	if _, ok := mustGet(t, s, "a"); ok {
		t.Fatalf("uncommitted row visible outside the tx")
	}
	commit(t, tx)

	rec, ok := mustGet(t, s, "a")
	if !ok || rec.Gen != 3 || !bytes.Equal(rec.Value, []byte(`"x"`)) {
		t.Fatalf("Get(a) = %+v,%v want {\"x\" 3},true", rec, ok)
	}

	tx2 := begin(t, s)
	g, err := tx2.Generation(ctx)
	if err != nil || g != 7 {
		t.Fatalf("Generation = %d,%v want 7", g, err)
	}
	if err := tx2.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	commit(t, tx2)
	if _, ok := mustGet(t, s, "a"); ok {
		t.Fatalf("deleted row still visible")
	}
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	put(t, tx, "a", store.Record{Value: []byte("1"), Gen: 1})
	if err := tx.SetGeneration(ctx, 9); err != nil {
		t.Fatalf("SetGeneration: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok := mustGet(t, s, "a"); ok {
		t.Fatalf("rolled back row visible")
	}
	tx2 := begin(t, s)
	defer tx2.Rollback(ctx)
	if g, _ := tx2.Generation(ctx); g != 0 {
		t.Fatalf("Generation after rollback = %d, want 0", g)
	}
}

func testReadOwnWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed := begin(t, s)
	put(t, seed, "gone", store.Record{Value: []byte("1"), Gen: 1})
	commit(t, seed)

	tx := begin(t, s)
	defer tx.Rollback(ctx)
	put(t, tx, "new", store.Record{Value: []byte("2"), Gen: 2})
	if err := tx.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec, ok, err := tx.Get(ctx, "new"); err != nil || !ok || rec.Gen != 2 {
		t.Fatalf("tx.Get(new) = %+v,%v,%v", rec, ok, err)
	}
	if _, ok, err := tx.Get(ctx, "gone"); err != nil || ok {
		t.Fatalf("tx.Get(gone) ok=%v err=%v, want miss", ok, err)
	}
}

func testScan(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed := begin(t, s)
	for i, k := range []string{"d", "b", "a", "c", "e"} {
		put(t, seed, k, store.Record{Value: []byte(k), Gen: uint64(i + 1)})
	}
	commit(t, seed)

	tx := begin(t, s)
	cur, err := tx.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var seen []string
	for cur.Next(ctx) {
		seen = append(seen, cur.Key())
		switch cur.Key() {
		case "b":
			if err := cur.Delete(ctx); err != nil {
				t.Fatalf("cursor Delete: %v", err)
			}
		default:
			rec := cur.Record()
			rec.Gen += 10
			if err := cur.Update(ctx, rec); err != nil {
				t.Fatalf("cursor Update: %v", err)
			}
		}
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor Err: %v", err)
	}
	_ = cur.Close()
	commit(t, tx)

	if got, want := fmt.Sprint(seen), "[a b c d e]"; got != want {
		t.Fatalf("scan order = %s, want %s", got, want)
	}
	if _, ok := mustGet(t, s, "b"); ok {
		t.Fatalf("row deleted through cursor still present")
	}
	if rec, ok := mustGet(t, s, "a"); !ok || rec.Gen != 13 {
		t.Fatalf("Get(a) = %+v,%v want gen 13", rec, ok)
	}
}

func testScanOverlay(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed := begin(t, s)
	put(t, seed, "a", store.Record{Value: []byte("a"), Gen: 1})
	put(t, seed, "c", store.Record{Value: []byte("c"), Gen: 1})
	commit(t, seed)

	tx := begin(t, s)
	defer tx.Rollback(ctx)
	put(t, tx, "b", store.Record{Value: []byte("b"), Gen: 5})
	if err := tx.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	cur, err := tx.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer cur.Close()
	var seen []string
	for cur.Next(ctx) {
		seen = append(seen, fmt.Sprintf("%s:%d", cur.Key(), cur.Record().Gen))
	}
	if got, want := fmt.Sprint(seen), "[a:1 b:5]"; got != want {
		t.Fatalf("scan = %s, want %s", got, want)
	}
}

func testTxDone(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx := begin(t, s)
	commit(t, tx)
	if err := tx.Put(ctx, "a", store.Record{Gen: 1}); !errors.Is(err, store.ErrTxDone) {
		t.Fatalf("Put after Commit err = %v, want ErrTxDone", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, store.ErrTxDone) {
		t.Fatalf("second Commit err = %v, want ErrTxDone", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit: %v", err)
	}
}
