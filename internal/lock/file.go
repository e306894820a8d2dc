package lock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"notesync/internal/notesync"
)

const fileRetryDelay = 50 * time.Millisecond

// FileLocker serializes processes on one host with one flock file per key
// under dir. Keys are hashed into file names. Within the process a
// MemoryLocker guards the same key, since flock is per file descriptor.
type FileLocker struct {
	dir   string
	local *MemoryLocker
}

var _ notesync.Locker = (*FileLocker)(nil)

// NewFileLocker creates dir if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock dir is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	return &FileLocker{dir: dir, local: NewMemoryLocker()}, nil
}

// Path returns the lock file used for key.
func (l *FileLocker) Path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])+".lock")
}

func (l *FileLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	fl := flock.New(l.Path(key))
	locked, err := fl.TryLockContext(ctx, fileRetryDelay)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("acquiring file lock: %w", err)
	}
	if !locked {
		unlockLocal()
		return nil, fmt.Errorf("acquiring file lock: %s is held", fl.Path())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			unlockLocal()
		})
	}, nil
}
