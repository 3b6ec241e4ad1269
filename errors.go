package gencache

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("gencache: service closed")
	// ErrInvalidThreshold rejects thresholds below 2: halving 1 would stamp
	// live rows with generation 0.
	ErrInvalidThreshold = errors.New("gencache: threshold must be >= 2")
	// ErrNoStore is returned by New when Options.Store is nil.
	ErrNoStore = errors.New("gencache: nil store")
)

// BatchError reports a batch that did not commit. Its pending work has been
// restored and will be retried by the next batch.
type BatchError struct {
	// Generation is the committed generation the batch started from.
	Generation  uint64
	Err         error
	RollbackErr error
}

func (e *BatchError) Error() string {
	switch {
	case e.Err != nil && e.RollbackErr != nil:
		return fmt.Sprintf("gencache: batch at generation %d failed: %v; rollback: %v",
			e.Generation, e.Err, e.RollbackErr)
	case e.Err != nil:
		return fmt.Sprintf("gencache: batch at generation %d failed: %v", e.Generation, e.Err)
	default:
		return fmt.Sprintf("gencache: batch at generation %d: rollback: %v", e.Generation, e.RollbackErr)
	}
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}
