package clan

import (
	"context"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// Repository stores clan snapshots.
type Repository interface {
	// Create stores a new clan with Version 1.
	Create(ctx context.Context, s *Snapshot) error

	// GetByID returns ErrClanNotFound if the clan does not exist.
	GetByID(ctx context.Context, id shared.ClanID) (*Snapshot, error)

	// Save replaces the clan if its version still equals s.Version, then
	// bumps s.Version. Returns ErrSnapshotConflict otherwise.
	Save(ctx context.Context, s *Snapshot) error
}
