package batcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gate lets a test hold the batch body open.
type gate struct {
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) fn(calls *atomic.Int32, err error) Func {
	return func(context.Context) error {
		calls.Add(1)
		g.started <- struct{}{}
		<-g.release
		return err
	}
}

func waitStarted(t *testing.T, g *gate) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
	}
}

func TestIdleRequestRunsOnce(t *testing.T) {
	var calls atomic.Int32
	b := New(t.Context(), func(context.Context) error {
		calls.Add(1)
		return nil
	})

	if err := b.Request().Wait(t.Context()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if calls.Load() != 1 || b.Runs() != 1 {
		t.Fatalf("calls=%d runs=%d", calls.Load(), b.Runs())
	}
}

func TestRequestsDuringRunCoalesce(t *testing.T) {
	var calls atomic.Int32
	g := newGate()
	b := New(t.Context(), g.fn(&calls, nil))

	first := b.Request()
	waitStarted(t, g)

	var wg sync.WaitGroup
	runs := make([]*Run, 50)
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs[i] = b.Request()
		}()
	}
	wg.Wait()

	for _, r := range runs {
		if r == first {
			t.Fatal("request during a run joined the in-flight run")
		}
		if r != runs[0] {
			t.Fatal("requests during a run did not share one follow-up")
		}
	}

	close(g.release)
	if err := runs[0].Wait(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestErrorReachesEveryWaiter(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	g := newGate()
	b := New(t.Context(), g.fn(&calls, boom))

	b.Request()
	waitStarted(t, g)
	a, c := b.Request(), b.Request()
	close(g.release)

	for _, r := range []*Run{a, c} {
		if err := r.Wait(t.Context()); !errors.Is(err, boom) {
			t.Fatalf("Wait = %v, want %v", err, boom)
		}
	}
}

func TestWaitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	g := newGate()
	b := New(t.Context(), g.fn(&calls, nil))

	r := b.Request()
	waitStarted(t, g)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v", err)
	}
	if r.Err() != nil {
		t.Fatal("Err before completion should be nil")
	}
	close(g.release)
	<-r.Done()
}

func TestCloseWaitsAndRejects(t *testing.T) {
	var calls atomic.Int32
	g := newGate()
	b := New(t.Context(), g.fn(&calls, nil))

	b.Request()
	waitStarted(t, g)
	follow := b.Request()

	closed := make(chan error, 1)
	go func() { closed <- b.Close(t.Context()) }()

	close(g.release)
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-follow.Done():
	default:
		t.Fatal("Close returned before the queued run finished")
	}
	if b.busy() {
		t.Fatal("batcher still busy after Close")
	}
	if err := b.Request().Wait(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Request after Close = %v", err)
	}
}
