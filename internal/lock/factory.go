package lock

import (
	"context"
	"fmt"
	"time"

	"notesync/internal/config"
	"notesync/internal/notesync"
)

// NewLockerFromConfig creates a Locker based on the lock config type.
func NewLockerFromConfig(ctx context.Context, cfg config.LockConfig) (notesync.Locker, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryLocker(), nil
	case "file":
		l, err := NewFileLocker(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "redis":
		l, err := NewRedisLocker(ctx, cfg.RedisAddr, cfg.RedisDB, time.Duration(cfg.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown lock type: %s", cfg.Type)
	}
}
