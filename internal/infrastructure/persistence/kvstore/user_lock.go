package kvstore

import (
	"context"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
)

// DefaultLockTTL bounds how long a crashed holder can block a learner.
const DefaultLockTTL = 30 * time.Second

// UserLock implements fluency.UserLock on top of a Locker.
type UserLock struct {
	locker Locker
	ttl    time.Duration
}

// NewUserLock creates a UserLock. A zero ttl uses DefaultLockTTL.
func NewUserLock(locker Locker, ttl time.Duration) *UserLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &UserLock{locker: locker, ttl: ttl}
}

var _ fluency.UserLock = (*UserLock)(nil)

// Acquire locks lock:fluency:{userID}.
func (l *UserLock) Acquire(ctx context.Context, userID string) (func(), error) {
	return l.locker.Lock(ctx, FluencyLockKey(userID), l.ttl)
}
