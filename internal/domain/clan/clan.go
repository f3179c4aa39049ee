// Package clan contains clan progression: a simpler parallel of user
// progression where every member session feeds clan experience (CXP).
package clan

import (
	"math"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURVES
// ══════════════════════════════════════════════════════════════════════════════

const (
	// CXPPerHour is the flat clan rate, independent of member prestige.
	CXPPerHour = 10

	// MaxCXP bounds the clan counter. Sessions that would pass it are rejected.
	MaxCXP = math.MaxInt32

	clanCurveBase     = 150
	clanCurveExponent = 1.3
	clanFallbackCXP   = 100
)

// CXPForClanLevelUp returns the CXP needed to leave level.
// Levels below 1 fall back to 100.
func CXPForClanLevelUp(level int) int {
	if level <= 0 {
		return clanFallbackCXP
	}
	return int(math.Floor(clanCurveBase * math.Pow(float64(level), clanCurveExponent)))
}

// TotalCXPToReachClanLevel returns the cumulative CXP at which level starts.
func TotalCXPToReachClanLevel(level int) int {
	total := 0
	for l := 1; l < level; l++ {
		total += CXPForClanLevelUp(l)
	}
	return total
}

// LevelForCXP returns the clan level that cxp places a clan at.
func LevelForCXP(cxp int) int {
	return levelFrom(1, 0, cxp)
}

// levelFrom walks up from level, whose cumulative threshold is start, while
// cxp covers the next level. Thresholds are accumulated, not recomputed.
func levelFrom(level, start, cxp int) int {
	next := start + CXPForClanLevelUp(level)
	for cxp >= next {
		level++
		next += CXPForClanLevelUp(level)
	}
	return level
}

// Perks is the daily per-member bonus of a clan level.
type Perks struct {
	XP    int `json:"xp"`
	Coins int `json:"coins"`
}

// IsZero reports whether the perks grant nothing.
func (p Perks) IsZero() bool {
	return p.XP == 0 && p.Coins == 0
}

// GetClanPerks returns the daily perks of a level. Level 1 grants nothing.
func GetClanPerks(level int) Perks {
	if level < 2 {
		return Perks{}
	}
	return Perks{XP: 10 * (level - 1), Coins: 5 * (level - 1)}
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the progression state of one clan.
//
// Invariant: TotalCXPToReachClanLevel(Level) <= CXP < TotalCXPToReachClanLevel(Level+1).
type Snapshot struct {
	ID        shared.ClanID `json:"id"`
	Name      string        `json:"name"`
	Level     int           `json:"level"`
	CXP       int           `json:"cxp"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Version   int64         `json:"version"`
}

// NewSnapshot creates a freshly founded clan at level 1.
func NewSnapshot(id shared.ClanID, name string, now time.Time) (*Snapshot, error) {
	if id.IsEmpty() {
		return nil, shared.ErrInvalidClanID
	}
	return &Snapshot{
		ID:        id,
		Name:      name,
		Level:     1,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// Validate checks the level invariant.
func (s *Snapshot) Validate() error {
	if s == nil {
		return shared.NewDomainError("clan", "Validate", shared.ErrInvalidEntity, "clan snapshot is nil")
	}
	if s.Level < 1 || s.CXP < 0 {
		return shared.NewDomainError("clan", "Validate", shared.ErrInvalidEntity, "level must be at least 1 and cxp non-negative")
	}
	if s.CXP < TotalCXPToReachClanLevel(s.Level) {
		return shared.NewDomainError("clan", "Validate", shared.ErrInvalidEntity, "cxp is below the level threshold")
	}
	return nil
}

// Perks returns the current daily perks of the clan.
func (s *Snapshot) Perks() Perks {
	return GetClanPerks(s.Level)
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// LevelUp reports one clan level crossing.
type LevelUp struct {
	NewLevel int   `json:"newLevel"`
	Perks    Perks `json:"perks"`
}

// ToDomainEvent converts the level-up into a bus event.
func (e LevelUp) ToDomainEvent(clanID shared.ClanID, at time.Time) shared.Event {
	return shared.NewGenericEvent(shared.EventClanLevelUp, clanID.String(), at, map[string]interface{}{
		"new_level":  e.NewLevel,
		"perk_xp":    e.Perks.XP,
		"perk_coins": e.Perks.Coins,
	})
}

// CXPForSession converts member hours into clan CXP, rounding halves up.
// Anything past MaxCXP comes back as MaxCXP+1.
func CXPForSession(hours float64) int {
	r := math.Floor(hours*CXPPerHour + 0.5)
	if r > MaxCXP {
		return MaxCXP + 1
	}
	return int(r)
}

// ApplyMemberSession adds the CXP of one member session and levels the clan
// up as many times as the new total allows. The input is not modified.
func ApplyMemberSession(s *Snapshot, hoursLogged float64) (*Snapshot, []LevelUp, error) {
	if _, err := shared.NewHours(hoursLogged); err != nil {
		return nil, nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	gained := CXPForSession(hoursLogged)
	if gained > MaxCXP-s.CXP {
		return nil, nil, shared.ErrClanSessionTooLarge
	}

	next := *s
	next.CXP += gained

	from := next.Level
	next.Level = levelFrom(from, TotalCXPToReachClanLevel(from), next.CXP)
	ups := make([]LevelUp, 0, next.Level-from)
	for l := from + 1; l <= next.Level; l++ {
		ups = append(ups, LevelUp{NewLevel: l, Perks: GetClanPerks(l)})
	}
	return &next, ups, nil
}
