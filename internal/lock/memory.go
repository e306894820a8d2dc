// Package lock provides notesync.Locker implementations: an in-process
// locker, a host-wide file locker and a cross-host Redis locker.
package lock

import (
	"context"
	"sync"

	"notesync/internal/notesync"
)

// MemoryLocker serializes callers within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var _ notesync.Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}
