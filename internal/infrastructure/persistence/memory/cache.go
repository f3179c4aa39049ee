package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ErrCacheMiss is returned by SnapshotCache.Get for absent or expired entries.
var ErrCacheMiss = errors.New("memory cache: key not found")

type cacheEntry struct {
	snap      *progression.Snapshot
	expiresAt time.Time
}

// SnapshotCache implements progression.SnapshotCache with lazy expiry.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[shared.UserID]cacheEntry
	now     func() time.Time
}

var _ progression.SnapshotCache = (*SnapshotCache)(nil)

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{entries: make(map[shared.UserID]cacheEntry), now: time.Now}
}

// Get returns a copy of a live entry.
func (c *SnapshotCache) Get(ctx context.Context, id shared.UserID) (*progression.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, id)
		return nil, ErrCacheMiss
	}
	return e.snap.Clone(), nil
}

// Set stores a copy of snap. A non-positive ttl never expires.
func (c *SnapshotCache) Set(ctx context.Context, snap *progression.Snapshot, ttl time.Duration) error {
	if snap == nil {
		return errors.New("memory cache: value cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{snap: snap.Clone()}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[snap.ID] = e
	return nil
}

// Delete evicts an entry.
func (c *SnapshotCache) Delete(ctx context.Context, id shared.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Locker
// ─────────────────────────────────────────────────────────────────────────────

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// Locker implements progression.Locker within one process.
type Locker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

var _ progression.Locker = (*Locker)(nil)

// NewLocker creates a new Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]lockEntry), now: time.Now}
}

// Acquire takes the lock or returns ErrSessionInProgress. Expired locks are
// taken over; a stale release never drops the new owner's lock.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, shared.ErrSessionInProgress
	}

	token := uuid.NewString()
	l.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.token == token {
			delete(l.locks, key)
		}
		return nil
	}, nil
}
