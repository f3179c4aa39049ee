package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock that someone else re-acquired is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements progression.Locker with SET NX PX.
type Locker struct {
	cache *Cache
}

var _ progression.Locker = (*Locker)(nil)

// NewLocker creates a new Locker.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// Acquire takes the lock on key for at most ttl.
// Returns ErrSessionInProgress if someone else holds it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock: ttl must be positive, got %s", ttl)
	}

	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, LockKey(key), token, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, shared.ErrSessionInProgress
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.cache.Client(), []string{LockKey(key)}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
