package progression

import (
	"math"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Defaults for cosmetic fields; the matching achievements fire once a user
// moves away from them.
const (
	DefaultTheme  = "default"
	DefaultStatus = "Ready to study!"
)

// StudyLogEntry is one logged study session.
type StudyLogEntry struct {
	Date  string  `json:"date"`
	Hours float64 `json:"hours"`
}

// UnlockedAchievement records when an achievement was granted.
type UnlockedAchievement struct {
	ID         AchievementID `json:"id"`
	UnlockedAt time.Time     `json:"unlockedAt"`
}

// Equipment holds the equipped cosmetics.
type Equipment struct {
	Avatar string `json:"avatar,omitempty"`
	Frame  string `json:"frame,omitempty"`
	Badge  string `json:"badge,omitempty"`
}

// Snapshot is the mutable progression state of one user.
//
// Invariant after every engine call:
// TotalXPToReachLevel(Level) <= XP < TotalXPToReachLevel(Level+1).
type Snapshot struct {
	// Identity
	ID        shared.UserID `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"createdAt"`
	Timezone  string        `json:"timezone"`

	// Progression
	Level               int                   `json:"level"`
	XP                  int                   `json:"xp"`
	Prestige            int                   `json:"prestige"`
	Streak              int                   `json:"streak"`
	LastStudiedDate     string                `json:"lastStudiedDate,omitempty"`
	StudyLog            []StudyLogEntry       `json:"studyLog"`
	Coins               int                   `json:"coins"`
	WeeklyGoals         WeeklyGoals           `json:"weeklyGoals"`
	TotalGoalsCompleted int                   `json:"totalGoalsCompleted"`
	Achievements        []UnlockedAchievement `json:"achievements"`

	// Titles
	EquippedTitle string `json:"equippedTitle,omitempty"`
	Title         string `json:"title"`

	// Social / cosmetic state consumed by achievements and the integrity hash.
	Friends   []shared.UserID `json:"friends"`
	Theme     string          `json:"theme"`
	Status    string          `json:"status"`
	Inventory []string        `json:"inventory"`
	Unlocks   []string        `json:"unlocks"`
	Equipped  Equipment       `json:"equipped"`

	// Clan membership
	ClanID            shared.ClanID `json:"clanId,omitempty"`
	LastPerkClaimDate string        `json:"lastPerkClaimDate,omitempty"`

	// Storage bookkeeping (not hashed).
	IntegrityHash string `json:"integrityHash,omitempty"`
	Version       int64  `json:"version"`
}

// NewSnapshotParams contains the data needed to create a user snapshot.
type NewSnapshotParams struct {
	ID        shared.UserID
	Name      string
	Timezone  string
	Today     string
	CreatedAt time.Time
	Goals     GoalGenerator
}

// NewSnapshot creates the signup snapshot: level 1, no XP, goals for this week.
func NewSnapshot(p NewSnapshotParams) (*Snapshot, error) {
	if !p.ID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if _, err := timeutil.LoadLocation(p.Timezone); err != nil {
		return nil, shared.WrapError("progression", "NewSnapshot", shared.ErrInvalidInput, "unknown timezone", err)
	}
	weekID, err := timeutil.WeekIdentifier(p.Today)
	if err != nil {
		return nil, shared.WrapError("progression", "NewSnapshot", shared.ErrInvalidFormat, "date must be YYYY-MM-DD", err)
	}
	if p.Goals == nil {
		return nil, shared.NewDomainError("progression", "NewSnapshot", shared.ErrInvalidInput, "goal generator is required")
	}

	tz := p.Timezone
	if tz == "" {
		tz = timeutil.DefaultTimezone
	}

	return &Snapshot{
		ID:           p.ID,
		Name:         p.Name,
		CreatedAt:    p.CreatedAt.UTC(),
		Timezone:     tz,
		Level:        1,
		StudyLog:     []StudyLogEntry{},
		WeeklyGoals:  WeeklyGoals{WeekIdentifier: weekID, Goals: p.Goals.Generate()},
		Achievements: []UnlockedAchievement{},
		Title:        DetermineTitle(1, 0),
		Friends:      []shared.UserID{},
		Theme:        DefaultTheme,
		Status:       DefaultStatus,
		Inventory:    []string{},
		Unlocks:      []string{},
	}, nil
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.StudyLog = append([]StudyLogEntry(nil), s.StudyLog...)
	c.Achievements = append([]UnlockedAchievement(nil), s.Achievements...)
	c.Friends = append([]shared.UserID(nil), s.Friends...)
	c.Inventory = append([]string(nil), s.Inventory...)
	c.Unlocks = append([]string(nil), s.Unlocks...)
	c.WeeklyGoals.Goals = append([]Goal(nil), s.WeeklyGoals.Goals...)
	return &c
}

// Validate checks the fields the engine relies on.
func (s *Snapshot) Validate() error {
	if s == nil {
		return shared.NewDomainError("progression", "Validate", shared.ErrInvalidEntity, "snapshot is nil")
	}
	switch {
	case s.Level < 1:
		return shared.WrapError("progression", "Validate", shared.ErrInvalidEntity, "level must be at least 1", shared.ErrValueOutOfRange)
	case s.XP < 0, s.Coins < 0, s.Streak < 0, s.Prestige < 0, s.TotalGoalsCompleted < 0:
		return shared.WrapError("progression", "Validate", shared.ErrInvalidEntity, "counters cannot be negative", shared.ErrNegativeValue)
	case s.LastStudiedDate != "" && !timeutil.IsValidDate(s.LastStudiedDate):
		return shared.WrapError("progression", "Validate", shared.ErrInvalidEntity, "lastStudiedDate is malformed", shared.ErrInvalidFormat)
	case s.XP < TotalXPToReachLevel(s.Level):
		return shared.ErrInvalidSnapshot
	}
	for _, e := range s.StudyLog {
		if math.IsNaN(e.Hours) || e.Hours < 0 {
			return shared.WrapError("progression", "Validate", shared.ErrInvalidEntity, "study log contains invalid hours", shared.ErrNegativeValue)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Study log aggregates
// ─────────────────────────────────────────────────────────────────────────────

// TotalHours returns the sum of all logged hours.
func (s *Snapshot) TotalHours() float64 {
	total := 0.0
	for _, e := range s.StudyLog {
		total += e.Hours
	}
	return total
}

// HoursOn returns the hours logged on one local date, summing all entries.
func (s *Snapshot) HoursOn(date string) float64 {
	total := 0.0
	for _, e := range s.StudyLog {
		if e.Date == date {
			total += e.Hours
		}
	}
	return total
}

// HoursInWeek returns the hours logged on dates inside the given week.
func (s *Snapshot) HoursInWeek(weekID string) float64 {
	total := 0.0
	for _, e := range s.StudyLog {
		if timeutil.InWeek(e.Date, weekID) {
			total += e.Hours
		}
	}
	return total
}

// MaxDailyHours returns the largest per-date total in the log.
func (s *Snapshot) MaxDailyHours() float64 {
	byDate := make(map[string]float64, len(s.StudyLog))
	best := 0.0
	for _, e := range s.StudyLog {
		byDate[e.Date] += e.Hours
		if byDate[e.Date] > best {
			best = byDate[e.Date]
		}
	}
	return best
}

// UnlockedSet returns the ids of all unlocked achievements.
func (s *Snapshot) UnlockedSet() map[AchievementID]bool {
	set := make(map[AchievementID]bool, len(s.Achievements))
	for _, a := range s.Achievements {
		set[a.ID] = true
	}
	return set
}

// ─────────────────────────────────────────────────────────────────────────────
// Level progress
// ─────────────────────────────────────────────────────────────────────────────

// LevelProgress describes how far a user is into the current level.
type LevelProgress struct {
	Level        int     `json:"level"`
	XPIntoLevel  int     `json:"xpIntoLevel"`
	XPForLevelUp int     `json:"xpForLevelUp"`
	Percent      float64 `json:"percent"`
	Cap          int     `json:"cap"`
	CanPrestige  bool    `json:"canPrestige"`
}

// Progress returns the level progress view of the snapshot.
func (s *Snapshot) Progress() LevelProgress {
	level := s.Level
	if level < 1 {
		level = 1
	}
	need := xpForLevelUp(level)
	into := s.XP - TotalXPToReachLevel(level)
	if into < 0 {
		into = 0
	}
	cfg := GetPrestigeConfig(s.Prestige)

	return LevelProgress{
		Level:        level,
		XPIntoLevel:  into,
		XPForLevelUp: need,
		Percent:      math.Min(100, float64(into)*100/float64(need)),
		Cap:          cfg.Cap,
		CanPrestige:  level >= cfg.Cap,
	}
}
