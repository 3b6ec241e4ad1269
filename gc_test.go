package gencache

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/gencache/store"
	"github.com/unkn0wn-root/gencache/store/bigcache"
)

func TestAdvance(t *testing.T) {
	cases := []struct {
		g, t      uint64
		next      uint64
		wantSweep bool
	}{
		{0, 4, 1, false},
		{3, 4, 4, false},
		{4, 4, 2, true},
		{5, 4, 2, true},
		{2, 2, 1, true},
		{9, 10, 10, false},
		{10, 10, 5, true},
	}
	for _, tc := range cases {
		next, sweep := advance(tc.g, tc.t)
		if next != tc.next || sweep != tc.wantSweep {
			t.Errorf("advance(%d, %d) = (%d, %v), want (%d, %v)", tc.g, tc.t, next, sweep, tc.next, tc.wantSweep)
		}
	}
}

// Generation never decreases except on the advance that reaches T, and then
// only by halving.
func TestAdvanceMonotonicBetweenSweeps(t *testing.T) {
	for _, th := range []uint64{2, 3, 4, 7, 16} {
		g := uint64(0)
		for range 100 {
			next, sweep := advance(g, th)
			switch {
			case sweep && (g < th || next != g/2):
				t.Fatalf("T=%d: sweep from %d to %d", th, g, next)
			case !sweep && next != g+1:
				t.Fatalf("T=%d: tick from %d to %d", th, g, next)
			case next == 0:
				t.Fatalf("T=%d: generation reached 0", th)
			}
			g = next
		}
	}
}

func newBigcache(t *testing.T) *bigcache.Store {
	t.Helper()
	st, err := bigcache.New(t.Context(), bigcache.Config{})
	if err != nil {
		t.Fatalf("bigcache.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func seed(t *testing.T, st store.Store, rows map[string]uint64) {
	t.Helper()
	ctx := t.Context()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for k, g := range rows {
		if err := tx.Put(ctx, k, store.Record{Value: []byte(`"` + k + `"`), Gen: g}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSweep(t *testing.T) {
	ctx := t.Context()
	st := newBigcache(t)
	seed(t, st, map[string]uint64{"a": 1, "b": 4, "c": 1, "d": 3})

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	items := map[string]pendingItem[string]{
		"c": {},                                          // touch
		"d": {value: "D", raw: []byte(`"D"`), set: true}, // write
		"z": {value: "Z", raw: []byte(`"Z"`), set: true}, // no row yet
	}
	res := newBatchResult[string]()
	if err := sweep(ctx, tx, 2, items, res); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if len(res.expired) != 1 || res.expired[0] != "a" {
		t.Fatalf("expired = %v, want [a]", res.expired)
	}
	if len(res.changed) != 1 || res.changed["d"] != "D" {
		t.Fatalf("changed = %v, want {d:D}", res.changed)
	}
	if _, ok := items["z"]; !ok || len(items) != 1 {
		t.Fatalf("sweep should leave only keys without rows, got %v", items)
	}

	want := map[string]uint64{"b": 2, "c": 2, "d": 2}
	for k, g := range want {
		rec, ok, err := st.Get(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Get %q: ok=%v err=%v", k, ok, err)
		}
		if rec.Gen != g {
			t.Errorf("%s gen = %d, want %d", k, rec.Gen, g)
		}
	}
	if rec, _, _ := st.Get(ctx, "d"); string(rec.Value) != `"D"` {
		t.Errorf("d value = %s", rec.Value)
	}
	if _, ok, _ := st.Get(ctx, "a"); ok {
		t.Error("a should be deleted")
	}
}
