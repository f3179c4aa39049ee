package progression

import (
	"context"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Contracts for snapshot storage. Implementations live in
// infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores user progression snapshots.
type Repository interface {
	// Create stores a new snapshot with Version 1.
	// Returns ErrUserAlreadyExists if the id is taken.
	Create(ctx context.Context, s *Snapshot) error

	// GetByID returns the snapshot of a user.
	// Returns ErrUserNotFound if the user does not exist.
	GetByID(ctx context.Context, id shared.UserID) (*Snapshot, error)

	// Save replaces the stored snapshot if its version still equals
	// s.Version, then bumps s.Version.
	// Returns ErrSnapshotConflict when another writer got there first.
	Save(ctx context.Context, s *Snapshot) error

	// ListIDs pages through user ids in ascending order, starting after afterID.
	ListIDs(ctx context.Context, afterID shared.UserID, limit int) ([]shared.UserID, error)
}

// SnapshotCache is a read-through cache in front of Repository.
type SnapshotCache interface {
	// Get returns a cached snapshot or an error on miss.
	Get(ctx context.Context, id shared.UserID) (*Snapshot, error)

	// Set caches a snapshot.
	Set(ctx context.Context, s *Snapshot, ttl time.Duration) error

	// Delete evicts a snapshot.
	Delete(ctx context.Context, id shared.UserID) error
}

// Locker grants exclusive per-key ownership for read-modify-write cycles.
type Locker interface {
	// Acquire takes the lock or returns ErrSessionInProgress.
	// The returned function releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// SessionRecord is the audit row of one accepted study session.
type SessionRecord struct {
	ID       string
	UserID   shared.UserID
	Date     string
	Hours    float64
	XPGained int
	LoggedAt time.Time
}
