// Package lease provides claimers that keep two gencache services from
// serving the same store name at once.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrHeld is returned (wrapped) when the name is already claimed.
var ErrHeld = errors.New("lease: name already claimed")

// Local claims names within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local { return &Local{held: make(map[string]struct{})} }

func (l *Local) Claim(_ context.Context, name string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrHeld, name)
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
