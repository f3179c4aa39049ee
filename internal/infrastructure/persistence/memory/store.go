// Package memory provides in-process implementations of the persistence
// contracts. They back local development without Postgres or Redis and the
// application tests. Values are deep-copied on the way in and out so callers
// never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps users, clans and session records under one mutex, which makes
// CommitSession atomic.
type Store struct {
	mu       sync.RWMutex
	users    map[shared.UserID]*progression.Snapshot
	clans    map[shared.ClanID]*clan.Snapshot
	sessions []progression.SessionRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users: make(map[shared.UserID]*progression.Snapshot),
		clans: make(map[shared.ClanID]*clan.Snapshot),
	}
}

// Progressions returns a progression.Repository view of the store.
func (s *Store) Progressions() *ProgressionRepository {
	return &ProgressionRepository{store: s}
}

// Clans returns a clan.Repository view of the store.
func (s *Store) Clans() *ClanRepository {
	return &ClanRepository{store: s}
}

// Sessions returns a copy of the recorded sessions of a user.
func (s *Store) Sessions(userID shared.UserID) []progression.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progression.SessionRecord
	for _, r := range s.sessions {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// CommitSession saves user and, if non-nil, c and rec atomically.
func (s *Store) CommitSession(ctx context.Context, user *progression.Snapshot, c *clan.Snapshot, rec *progression.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUser(user); err != nil {
		return err
	}
	if c != nil {
		if err := s.checkClan(c); err != nil {
			return err
		}
	}

	user.Version++
	s.users[user.ID] = user.Clone()
	if c != nil {
		c.Version++
		c.UpdatedAt = time.Now().UTC()
		cp := *c
		s.clans[c.ID] = &cp
	}
	if rec != nil {
		r := *rec
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.sessions = append(s.sessions, r)
	}
	return nil
}

func (s *Store) checkUser(u *progression.Snapshot) error {
	stored, ok := s.users[u.ID]
	if !ok {
		return shared.ErrUserNotFound
	}
	if stored.Version != u.Version {
		return shared.ErrSnapshotConflict
	}
	if !u.ClanID.IsEmpty() {
		if _, ok := s.clans[u.ClanID]; !ok {
			return shared.ErrClanNotFound
		}
	}
	return nil
}

func (s *Store) checkClan(c *clan.Snapshot) error {
	stored, ok := s.clans[c.ID]
	if !ok {
		return shared.ErrClanNotFound
	}
	if stored.Version != c.Version {
		return shared.ErrSnapshotConflict
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionRepository implements progression.Repository in memory.
type ProgressionRepository struct {
	store *Store
}

var _ progression.Repository = (*ProgressionRepository)(nil)

// Create stores a new snapshot with version 1.
func (r *ProgressionRepository) Create(ctx context.Context, s *progression.Snapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.users[s.ID]; ok {
		return shared.ErrUserAlreadyExists
	}
	s.Version = 1
	r.store.users[s.ID] = s.Clone()
	return nil
}

// GetByID returns a copy of the stored snapshot.
func (r *ProgressionRepository) GetByID(ctx context.Context, id shared.UserID) (*progression.Snapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	s, ok := r.store.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return s.Clone(), nil
}

// Save replaces the snapshot if its version matches.
func (r *ProgressionRepository) Save(ctx context.Context, s *progression.Snapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.checkUser(s); err != nil {
		return err
	}
	s.Version++
	r.store.users[s.ID] = s.Clone()
	return nil
}

// ListIDs pages through user ids in ascending order.
func (r *ProgressionRepository) ListIDs(ctx context.Context, afterID shared.UserID, limit int) ([]shared.UserID, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids := make([]shared.UserID, 0, len(r.store.users))
	for id := range r.store.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ClanRepository implements clan.Repository in memory.
type ClanRepository struct {
	store *Store
}

var _ clan.Repository = (*ClanRepository)(nil)

// Create stores a new clan with version 1.
func (r *ClanRepository) Create(ctx context.Context, c *clan.Snapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.clans[c.ID]; ok {
		return shared.NewDomainError("clan", "Create", shared.ErrAlreadyExists, "clan already exists")
	}
	c.Version = 1
	cp := *c
	r.store.clans[c.ID] = &cp
	return nil
}

// GetByID returns a copy of the stored clan.
func (r *ClanRepository) GetByID(ctx context.Context, id shared.ClanID) (*clan.Snapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	c, ok := r.store.clans[id]
	if !ok {
		return nil, shared.ErrClanNotFound
	}
	cp := *c
	return &cp, nil
}

// Save replaces the clan if its version matches.
func (r *ClanRepository) Save(ctx context.Context, c *clan.Snapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.checkClan(c); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.store.clans[c.ID] = &cp
	return nil
}
