// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Everything the dashboard shows about one user: level bar, title, streak,
// weekly goals, achievements, plus whether the stored snapshot is trusted.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery contains the query parameters.
type GetProgressQuery struct {
	UserID string

	// IncludeStudyLog adds the full per-day log to the result.
	IncludeStudyLog bool
}

// Validate validates the query.
func (q GetProgressQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// ProgressDTO is the read model of a user's progression.
type ProgressDTO struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`

	Level    int                       `json:"level"`
	XP       int                       `json:"xp"`
	Prestige int                       `json:"prestige"`
	Progress progression.LevelProgress `json:"progress"`
	Title    string                    `json:"title"`
	Coins    int                       `json:"coins"`

	Streak          int     `json:"streak"`
	LastStudiedDate string  `json:"lastStudiedDate,omitempty"`
	TotalHours      float64 `json:"totalHours"`

	WeeklyGoals         progression.WeeklyGoals           `json:"weeklyGoals"`
	TotalGoalsCompleted int                               `json:"totalGoalsCompleted"`
	Achievements        []progression.UnlockedAchievement `json:"achievements"`
	StudyLog            []progression.StudyLogEntry       `json:"studyLog,omitempty"`

	ClanID            string `json:"clanId,omitempty"`
	LastPerkClaimDate string `json:"lastPerkClaimDate,omitempty"`

	// Trusted is false when the stored integrity hash does not verify.
	Trusted bool  `json:"trusted"`
	Version int64 `json:"version"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	users progression.Repository
	cache progression.SnapshotCache
	ttl   time.Duration
	salt  string
	log   *logger.Logger
}

// NewGetProgressHandler creates a new GetProgressHandler. cache may be nil;
// misses are written back with cacheTTL.
func NewGetProgressHandler(users progression.Repository, cache progression.SnapshotCache, cacheTTL time.Duration, salt string, log *logger.Logger) *GetProgressHandler {
	if log == nil {
		log = logger.Discard()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &GetProgressHandler{users: users, cache: cache, ttl: cacheTTL, salt: salt, log: log}
}

// Handle executes the query.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetProgress", shared.ErrValidation, err.Error(), err)
	}
	id := shared.UserID(q.UserID)

	snap, err := h.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	dto := toProgressDTO(snap, progression.Verify(snap, h.salt))
	if q.IncludeStudyLog {
		dto.StudyLog = snap.StudyLog
	}
	return dto, nil
}

func (h *GetProgressHandler) load(ctx context.Context, id shared.UserID) (*progression.Snapshot, error) {
	if h.cache != nil {
		if snap, err := h.cache.Get(ctx, id); err == nil {
			return snap, nil
		}
	}

	snap, err := h.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, snap, h.ttl); err != nil {
			h.log.Debug("failed to warm snapshot cache", logger.UserID(id.String()), logger.Err(err))
		}
	}
	return snap, nil
}

func toProgressDTO(s *progression.Snapshot, trusted bool) *ProgressDTO {
	achievements := s.Achievements
	if achievements == nil {
		achievements = []progression.UnlockedAchievement{}
	}
	return &ProgressDTO{
		UserID:              s.ID.String(),
		Name:                s.Name,
		Timezone:            s.Timezone,
		Level:               s.Level,
		XP:                  s.XP,
		Prestige:            s.Prestige,
		Progress:            s.Progress(),
		Title:               s.DisplayTitle(),
		Coins:               s.Coins,
		Streak:              s.Streak,
		LastStudiedDate:     s.LastStudiedDate,
		TotalHours:          s.TotalHours(),
		WeeklyGoals:         s.WeeklyGoals,
		TotalGoalsCompleted: s.TotalGoalsCompleted,
		Achievements:        achievements,
		ClanID:              s.ClanID.String(),
		LastPerkClaimDate:   s.LastPerkClaimDate,
		Trusted:             trusted,
		Version:             s.Version,
	}
}
