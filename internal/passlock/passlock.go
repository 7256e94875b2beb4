// Package passlock serializes sync passes and publishes. Local covers a
// single process; Redis covers several processes sharing one store.
package passlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/starford/postsync/internal/apperr"
)

// Locker grants exclusive passes. With wait false Acquire fails fast with
// apperr.ErrBusy when the lock is held; otherwise it blocks until the lock
// frees up or ctx is done. The returned release func is idempotent.
type Locker interface {
	Acquire(ctx context.Context, wait bool) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	sem chan struct{}
}

var _ Locker = (*Local)(nil)

// NewLocal returns an unlocked Local.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context, wait bool) (func(), error) {
	if !wait {
		select {
		case l.sem <- struct{}{}:
			return l.releaser(), nil
		default:
			return nil, apperr.ErrBusy
		}
	}
	select {
	case l.sem <- struct{}{}:
		return l.releaser(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("passlock: %w", ctx.Err())
	}
}

func (l *Local) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-l.sem })
	}
}
