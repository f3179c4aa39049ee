package progression

import (
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// EventKind tags a notification.
type EventKind string

const (
	EventLevelUp             EventKind = "level_up"
	EventPrestigeAvailable   EventKind = "prestige_available"
	EventGoalComplete        EventKind = "goal_complete"
	EventAchievementUnlocked EventKind = "achievement_unlocked"
)

// Event is a transient notification produced by the engine.
// Only the fields of its Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	// LevelUp
	NewLevel int    `json:"newLevel,omitempty"`
	NewTitle string `json:"newTitle,omitempty"`

	// PrestigeAvailable
	Cap int `json:"cap,omitempty"`

	// GoalComplete
	Count   int `json:"count,omitempty"`
	BonusXP int `json:"bonusXp,omitempty"`

	// AchievementUnlocked: the first newly unlocked achievement.
	Achievement *AchievementDefinition `json:"achievement,omitempty"`
}

// LevelUpEvent creates a LevelUp notification.
func LevelUpEvent(level, prestige int) Event {
	return Event{Kind: EventLevelUp, NewLevel: level, NewTitle: DetermineTitle(level, prestige)}
}

// ToDomainEvent converts the notification into a bus event for user id.
func (e Event) ToDomainEvent(userID shared.UserID, at time.Time) shared.Event {
	data := map[string]interface{}{"kind": string(e.Kind)}
	var typ shared.EventType

	switch e.Kind {
	case EventLevelUp:
		typ = shared.EventLevelUp
		data["new_level"] = e.NewLevel
		data["new_title"] = e.NewTitle
	case EventPrestigeAvailable:
		typ = shared.EventPrestigeAvailable
		data["cap"] = e.Cap
	case EventGoalComplete:
		typ = shared.EventGoalComplete
		data["count"] = e.Count
		data["bonus_xp"] = e.BonusXP
	case EventAchievementUnlocked:
		typ = shared.EventAchievementUnlock
		if e.Achievement != nil {
			data["achievement_id"] = string(e.Achievement.ID)
			data["achievement_name"] = e.Achievement.Name
			data["reward_title"] = e.Achievement.RewardTitle
		}
	default:
		typ = shared.EventType("progression." + string(e.Kind))
	}

	return shared.NewGenericEvent(typ, userID.String(), at, data)
}

// ─────────────────────────────────────────────────────────────────────────────
// Bus events without an engine notification
// ─────────────────────────────────────────────────────────────────────────────

// UserRegisteredEvent announces a new snapshot.
func UserRegisteredEvent(s *Snapshot, at time.Time) shared.Event {
	return shared.NewGenericEvent(shared.EventUserRegistered, s.ID.String(), at, map[string]interface{}{
		"name":     s.Name,
		"timezone": s.Timezone,
	})
}

// SessionLoggedEvent summarizes one accepted session.
func SessionLoggedEvent(s *Snapshot, date string, hours float64, xpGained int, at time.Time) shared.Event {
	return shared.NewGenericEvent(shared.EventSessionLogged, s.ID.String(), at, map[string]interface{}{
		"date":      date,
		"hours":     hours,
		"xp_gained": xpGained,
		"level":     s.Level,
		"xp":        s.XP,
		"streak":    s.Streak,
	})
}

// PrestigedEvent announces a prestige reset.
func PrestigedEvent(s *Snapshot, at time.Time) shared.Event {
	return shared.NewGenericEvent(shared.EventPrestiged, s.ID.String(), at, map[string]interface{}{
		"prestige": s.Prestige,
		"title":    s.Title,
	})
}

// IntegrityViolationEvent reports a stored snapshot whose hash does not verify.
func IntegrityViolationEvent(s *Snapshot, at time.Time) shared.Event {
	return shared.NewGenericEvent(shared.EventIntegrityViolation, s.ID.String(), at, map[string]interface{}{
		"stored_hash": s.IntegrityHash,
		"version":     s.Version,
	})
}
