package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// keyedLocks hands out one exclusive lock per key. Waiting honours ctx so
// a unit of work never blocks past its deadline.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]chan struct{})}
}

func (l *keyedLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *keyedLocks) acquire(ctx context.Context, key string) error {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for lock %s: %w", model.ErrStorageUnavailable, key, ctx.Err())
	}
}

func (l *keyedLocks) release(key string) {
	<-l.slot(key)
}
