package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository for PostgreSQL.
type ProgressionRepository struct {
	conn *Connection
}

// NewProgressionRepository creates a new ProgressionRepository.
func NewProgressionRepository(conn *Connection) *ProgressionRepository {
	return &ProgressionRepository{conn: conn}
}

var _ progression.Repository = (*ProgressionRepository)(nil)

const (
	insertProgressionSQL = `
		INSERT INTO user_progressions (
			id, name, timezone, level, xp, prestige, coins, streak, clan_id,
			snapshot, integrity_hash, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)
	`

	selectProgressionSQL = `
		SELECT snapshot, integrity_hash, version
		FROM user_progressions
		WHERE id = $1
	`

	updateProgressionSQL = `
		UPDATE user_progressions SET
			name = $3, timezone = $4, level = $5, xp = $6, prestige = $7,
			coins = $8, streak = $9, clan_id = $10, snapshot = $11,
			integrity_hash = $12, version = version + 1, updated_at = $13
		WHERE id = $1 AND version = $2
	`

	existsProgressionSQL = `SELECT EXISTS(SELECT 1 FROM user_progressions WHERE id = $1)`
)

// Create stores a new snapshot with version 1.
func (r *ProgressionRepository) Create(ctx context.Context, s *progression.Snapshot) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	payload, err := encodeSnapshot(s)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.conn.Exec(ctx, insertProgressionSQL,
		s.ID.String(),
		s.Name,
		s.Timezone,
		s.Level,
		s.XP,
		s.Prestige,
		s.Coins,
		s.Streak,
		nullableClanID(s.ClanID),
		payload,
		s.IntegrityHash,
		s.CreatedAt,
		now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create progression: %w", err)
	}

	s.Version = 1
	return nil
}

// GetByID returns the stored snapshot of a user.
func (r *ProgressionRepository) GetByID(ctx context.Context, id shared.UserID) (*progression.Snapshot, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	return getProgression(ctx, r.conn, id)
}

// Save replaces the snapshot if nobody saved it since it was read.
func (r *ProgressionRepository) Save(ctx context.Context, s *progression.Snapshot) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if err := saveProgression(ctx, r.conn, s); err != nil {
		return err
	}
	s.Version++
	return nil
}

// ListIDs pages through user ids in ascending order.
func (r *ProgressionRepository) ListIDs(ctx context.Context, afterID shared.UserID, limit int) ([]shared.UserID, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id FROM user_progressions
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	ids := make([]shared.UserID, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, shared.UserID(id))
	}
	return ids, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers shared with SessionStore
// ─────────────────────────────────────────────────────────────────────────────

func getProgression(ctx context.Context, q Querier, id shared.UserID) (*progression.Snapshot, error) {
	var (
		payload []byte
		hash    string
		version int64
	)
	err := q.QueryRow(ctx, selectProgressionSQL, id.String()).Scan(&payload, &hash, &version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get progression: %w", err)
	}

	s, err := decodeSnapshot(payload)
	if err != nil {
		return nil, err
	}
	s.IntegrityHash = hash
	s.Version = version
	return s, nil
}

// saveProgression runs the version-checked update. It does not bump s.Version
// so a caller inside a transaction can do it after commit.
func saveProgression(ctx context.Context, q Querier, s *progression.Snapshot) error {
	payload, err := encodeSnapshot(s)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, updateProgressionSQL,
		s.ID.String(),
		s.Version,
		s.Name,
		s.Timezone,
		s.Level,
		s.XP,
		s.Prestige,
		s.Coins,
		s.Streak,
		nullableClanID(s.ClanID),
		payload,
		s.IntegrityHash,
		time.Now().UTC(),
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrClanNotFound
		}
		return fmt.Errorf("failed to save progression: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, existsProgressionSQL, s.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check progression existence: %w", err)
		}
		if !exists {
			return shared.ErrUserNotFound
		}
		return shared.ErrSnapshotConflict
	}
	return nil
}

// encodeSnapshot marshals everything except the bookkeeping columns, which
// are authoritative in their own columns.
func encodeSnapshot(s *progression.Snapshot) ([]byte, error) {
	c := *s
	c.IntegrityHash = ""
	c.Version = 0

	payload, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return payload, nil
}

func decodeSnapshot(payload []byte) (*progression.Snapshot, error) {
	var s progression.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}

func nullableClanID(id shared.ClanID) *string {
	if id.IsEmpty() {
		return nil
	}
	v := id.String()
	return &v
}
