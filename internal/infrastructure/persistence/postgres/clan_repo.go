package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ClanRepository implements clan.Repository for PostgreSQL.
type ClanRepository struct {
	conn *Connection
}

// NewClanRepository creates a new ClanRepository.
func NewClanRepository(conn *Connection) *ClanRepository {
	return &ClanRepository{conn: conn}
}

var _ clan.Repository = (*ClanRepository)(nil)

// Create stores a new clan with version 1.
func (r *ClanRepository) Create(ctx context.Context, c *clan.Snapshot) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	_, err := r.conn.Exec(ctx, `
		INSERT INTO clans (id, name, level, cxp, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
	`, c.ID.String(), c.Name, c.Level, c.CXP, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("clan", "Create", shared.ErrAlreadyExists, "clan already exists")
		}
		return fmt.Errorf("failed to create clan: %w", err)
	}

	c.Version = 1
	return nil
}

// GetByID returns a clan by id.
func (r *ClanRepository) GetByID(ctx context.Context, id shared.ClanID) (*clan.Snapshot, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	return getClan(ctx, r.conn, id)
}

// Save replaces the clan if nobody saved it since it was read.
func (r *ClanRepository) Save(ctx context.Context, c *clan.Snapshot) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if err := saveClan(ctx, r.conn, c); err != nil {
		return err
	}
	c.Version++
	return nil
}

func getClan(ctx context.Context, q Querier, id shared.ClanID) (*clan.Snapshot, error) {
	var c clan.Snapshot
	var rawID string
	err := q.QueryRow(ctx, `
		SELECT id, name, level, cxp, version, created_at, updated_at
		FROM clans WHERE id = $1
	`, id.String()).Scan(&rawID, &c.Name, &c.Level, &c.CXP, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrClanNotFound
		}
		return nil, fmt.Errorf("failed to get clan: %w", err)
	}
	c.ID = shared.ClanID(rawID)
	return &c, nil
}

func saveClan(ctx context.Context, q Querier, c *clan.Snapshot) error {
	c.UpdatedAt = time.Now().UTC()

	tag, err := q.Exec(ctx, `
		UPDATE clans SET name = $3, level = $4, cxp = $5, version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $2
	`, c.ID.String(), c.Version, c.Name, c.Level, c.CXP, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save clan: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM clans WHERE id = $1)`, c.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check clan existence: %w", err)
		}
		if !exists {
			return shared.ErrClanNotFound
		}
		return shared.ErrSnapshotConflict
	}
	return nil
}
