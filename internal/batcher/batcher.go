// Package batcher runs a mutation function serially, coalescing requests
// that arrive while a run is in flight into a single follow-up run.
package batcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is the result of runs requested after Close.
var ErrClosed = errors.New("batcher: closed")

// Func is one batch body. It drains whatever work has accumulated since the
// previous run; an empty drain should return nil.
type Func func(ctx context.Context) error

// Run is a handle on one execution of the batch body. Every request covered
// by the same execution receives the same Run.
type Run struct {
	done chan struct{}
	err  error
}

func newRun() *Run { return &Run{done: make(chan struct{})} }

// Failed returns a Run that has already completed with err.
func Failed(err error) *Run {
	r := newRun()
	r.finish(err)
	return r
}

func (r *Run) finish(err error) {
	r.err = err
	close(r.done)
}

// Done is closed once the run has completed.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the run's result. It is only meaningful after Done is closed.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the run completes or ctx ends. A ctx error does not
// cancel the run.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batcher serializes executions of a Func.
//
// At most one execution is in flight. A Request made while idle starts one
// immediately; any number of Requests made while one is running share a
// single queued follow-up, which starts as soon as the current one returns.
type Batcher struct {
	ctx context.Context
	fn  Func

	mu      sync.Mutex
	running *Run
	queued  *Run
	closed  bool

	runs atomic.Uint64
}

// New returns a Batcher that executes fn with ctx. Cancelling ctx is passed
// through to fn; it does not stop the batcher.
func New(ctx context.Context, fn Func) *Batcher {
	return &Batcher{ctx: ctx, fn: fn}
}

// Request schedules an execution that will observe all work accumulated
// before this call and returns its handle.
func (b *Batcher) Request() *Run {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Failed(ErrClosed)
	}
	if b.queued != nil {
		return b.queued
	}
	r := newRun()
	if b.running != nil {
		b.queued = r
		return r
	}
	b.running = r
	go b.loop(r)
	return r
}

func (b *Batcher) loop(r *Run) {
	for r != nil {
		b.runs.Add(1)
		err := b.fn(b.ctx)

		b.mu.Lock()
		next := b.queued
		b.queued = nil
		b.running = next
		b.mu.Unlock()

		r.finish(err)
		r = next
	}
}

// Runs reports how many executions have started.
func (b *Batcher) Runs() uint64 { return b.runs.Load() }

// busy reports whether an execution is in flight.
func (b *Batcher) busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running != nil
}

// Close rejects further requests and waits for the in-flight execution and
// its queued follow-up, if any, to finish.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	tail := b.queued
	if tail == nil {
		tail = b.running
	}
	b.mu.Unlock()

	if tail == nil {
		return nil
	}
	select {
	case <-tail.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
