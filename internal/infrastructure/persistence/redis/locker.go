package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/kvstore"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	lockPollMin = 10 * time.Millisecond
	lockPollMax = 200 * time.Millisecond
)

// Locker implements kvstore.Locker with SET NX PX and a token-checked release.
type Locker struct {
	rdb *redis.Client
}

// NewLocker creates a Locker on c.
func NewLocker(c *Client) *Locker {
	return &Locker{rdb: c.rdb}
}

var _ kvstore.Locker = (*Locker)(nil)

// Lock polls SET NX until it wins or ctx ends. The lock expires after ttl
// if the holder never releases it.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	token := uuid.NewString()
	delay := lockPollMin

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", kvstore.ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("redis: lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %v", kvstore.ErrLockTimeout, key, ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, lockPollMax)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// On failure the key still expires after ttl.
			_ = releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}
