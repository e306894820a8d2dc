package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"notesync/internal/notesync"
)

const (
	redisKeyPrefix  = "notesync:lock:"
	redisRetryDelay = 100 * time.Millisecond
	defaultRedisTTL = 5 * time.Minute
)

// releaseScript deletes the lock only while it still carries our token, so
// an expired holder cannot release a newer one.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes operations across hosts sharing one Redis. Each
// lock is a key with a TTL, so a crashed holder releases it eventually.
type RedisLocker struct {
	rdb   *goredis.Client
	ttl   time.Duration
	idgen notesync.IDGenerator
}

var _ notesync.Locker = (*RedisLocker)(nil)

// NewRedisLocker connects to addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisLocker, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", notesync.ErrUnreachable, err)
	}
	return NewRedisLockerFromClient(rdb, ttl), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(rdb *goredis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, idgen: notesync.UUIDGenerator{}}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := redisKeyPrefix + key
	token := l.idgen.New()

	for {
		ok, err := l.rdb.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: redis lock %s: %w", notesync.ErrUnreachable, key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(redisRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{rkey}, token).Err()
	}, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
