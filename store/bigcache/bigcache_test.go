package bigcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/unkn0wn-root/gencache/store"
	"github.com/unkn0wn-root/gencache/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestLenCountsCommittedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tx, _ := s.Begin(ctx)
	_ = tx.Put(ctx, "a", store.Record{Value: []byte("1"), Gen: 1})
	_ = tx.Put(ctx, "b", store.Record{Value: []byte("2"), Gen: 1})
	if n := s.Len(); n != 0 {
		t.Fatalf("Len before commit = %d, want 0", n)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := s.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}

func commitRow(t *testing.T, s *Store, key string, val []byte) error {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Put(ctx, key, store.Record{Value: val, Gen: 1}); err != nil {
		t.Fatal(err)
	}
	return tx.Commit(ctx)
}

func TestCommittedRowsAreNeverEvicted(t *testing.T) {
	s, err := New(context.Background(), Config{Shards: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	val := bytes.Repeat([]byte("x"), 4<<10)
	const rows = 600
	for i := 0; i < rows; i++ {
		if err := commitRow(t, s, fmt.Sprintf("k%04d", i), val); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	if n := s.Len(); n != rows {
		t.Fatalf("Len = %d, want %d", n, rows)
	}
	if _, ok, err := s.Get(context.Background(), "k0000"); err != nil || !ok {
		t.Fatalf("oldest row gone: ok=%v err=%v", ok, err)
	}
}

func TestMaxRowsRejectsWholeCommit(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Config{MaxRows: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close(ctx) })

	for _, k := range []string{"a", "b"} {
		if err := commitRow(t, s, k, []byte(k)); err != nil {
			t.Fatalf("commit %s: %v", k, err)
		}
	}
	if err := commitRow(t, s, "a", []byte("again")); err != nil {
		t.Fatalf("overwrite at the limit: %v", err)
	}

	tx, _ := s.Begin(ctx)
	_ = tx.Put(ctx, "c", store.Record{Value: []byte("c"), Gen: 1})
	_ = tx.SetGeneration(ctx, 7)
	if err := tx.Commit(ctx); !errors.Is(err, ErrFull) {
		t.Fatalf("Commit over limit = %v, want ErrFull", err)
	}
	if _, ok, _ := s.Get(ctx, "c"); ok {
		t.Fatal("rejected row was written")
	}
	tx, _ = s.Begin(ctx)
	if g, _ := tx.Generation(ctx); g != 0 {
		t.Fatalf("generation = %d after rejected commit", g)
	}

	_ = tx.Delete(ctx, "a")
	_ = tx.Put(ctx, "c", store.Record{Value: []byte("c"), Gen: 1})
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("swap at the limit: %v", err)
	}
	if n := s.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}
