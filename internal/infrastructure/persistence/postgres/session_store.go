package postgres

import (
	"context"
	"fmt"

	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STORE
// Writes the outcome of one study session atomically: the member snapshot,
// the clan snapshot when the member belongs to one, and the audit row.
// ══════════════════════════════════════════════════════════════════════════════

// SessionStore commits session results in a single transaction.
type SessionStore struct {
	conn *Connection
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(conn *Connection) *SessionStore {
	return &SessionStore{conn: conn}
}

// CommitSession saves user and, if non-nil, c and rec. Either every write
// lands or none does. Versions are bumped only after commit.
func (s *SessionStore) CommitSession(ctx context.Context, user *progression.Snapshot, c *clan.Snapshot, rec *progression.SessionRecord) error {
	ctx, cancel := s.conn.withTimeout(ctx)
	defer cancel()

	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := saveProgression(ctx, tx, user); err != nil {
			return err
		}
		if c != nil {
			if err := saveClan(ctx, tx, c); err != nil {
				return err
			}
		}
		if rec != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO study_sessions (id, user_id, local_date, hours, xp_gained, logged_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, rec.ID, rec.UserID.String(), rec.Date, rec.Hours, rec.XPGained, rec.LoggedAt); err != nil {
				return fmt.Errorf("failed to record study session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	user.Version++
	if c != nil {
		c.Version++
	}
	return nil
}
