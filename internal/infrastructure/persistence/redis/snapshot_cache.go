package redis

import (
	"context"
	"errors"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/circuitbreaker"
)

// SnapshotCache implements progression.SnapshotCache on top of Cache.
// When Redis keeps failing the breaker opens and every call fails fast, so
// callers fall through to Postgres instead of waiting on timeouts.
type SnapshotCache struct {
	cache   *Cache
	breaker *circuitbreaker.Breaker
}

var _ progression.SnapshotCache = (*SnapshotCache)(nil)

// NewSnapshotCache creates a new SnapshotCache. A nil breaker gets the
// default cache breaker, which ignores misses.
func NewSnapshotCache(cache *Cache, breaker *circuitbreaker.Breaker) *SnapshotCache {
	if breaker == nil {
		breaker = NewBreaker(nil)
	}
	return &SnapshotCache{cache: cache, breaker: breaker}
}

// Get returns the cached snapshot or ErrCacheMiss.
func (s *SnapshotCache) Get(ctx context.Context, id shared.UserID) (*progression.Snapshot, error) {
	var snap progression.Snapshot
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.cache.Get(ctx, ProgressionKey(id.String()), &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Set caches a snapshot, including its version and hash.
func (s *SnapshotCache) Set(ctx context.Context, snap *progression.Snapshot, ttl time.Duration) error {
	if snap == nil {
		return ErrCacheNilValue
	}
	if ttl <= 0 {
		ttl = TTLSnapshotCache
	}
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, ProgressionKey(snap.ID.String()), snap, ttl)
	})
}

// Delete evicts a snapshot.
func (s *SnapshotCache) Delete(ctx context.Context, id shared.UserID) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, ProgressionKey(id.String()))
	})
}

// NewBreaker returns the snapshot cache breaker; misses do not trip it.
func NewBreaker(onStateChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.Breaker {
	return circuitbreaker.ForCache(func(err error) bool { return !IsMiss(err) }, onStateChange)
}

// IsMiss reports whether err is a plain cache miss rather than a failure.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
