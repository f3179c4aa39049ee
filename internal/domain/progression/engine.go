package progression

import (
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine turns logged study sessions into progression updates.
// It performs no I/O; the caller persists the returned snapshot and must
// serialize calls per user.
type Engine struct {
	goals GoalGenerator
	clock timeutil.Clock
}

// NewEngine creates an Engine. The goal generator is required; a nil clock
// falls back to the system clock.
func NewEngine(goals GoalGenerator, clock timeutil.Clock) *Engine {
	if goals == nil {
		panic("progression: NewEngine requires a goal generator")
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Engine{goals: goals, clock: clock}
}

// LogStudySession applies one study session logged on the local date today.
// The input snapshot is not modified. Events are ordered: level-ups ascending,
// prestige availability, goal completion, achievement unlock.
func (e *Engine) LogStudySession(s *Snapshot, hoursLogged float64, today string) (*Snapshot, []Event, error) {
	if _, err := shared.NewHours(hoursLogged); err != nil {
		return nil, nil, err
	}
	if !timeutil.IsValidDate(today) {
		return nil, nil, shared.ErrMalformedDate
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	// The goal bonus can add at most one full week of goals on top.
	xpGained, coinsGained := SessionReward(hoursLogged, s.Prestige)
	if !fitsCounter(s.XP, xpGained+GoalsPerWeek*GoalBonusXP) || !fitsCounter(s.Coins, coinsGained) {
		return nil, nil, ErrSessionTooLarge
	}

	next := s.Clone()

	// 1. Log
	next.StudyLog = append(next.StudyLog, StudyLogEntry{Date: today, Hours: hoursLogged})

	// 2-3. Rewards and level-ups
	next.XP += xpGained
	next.Coins += coinsGained
	levelUps := next.absorbXP()

	// 5. Streak
	if err := next.updateStreak(today); err != nil {
		return nil, nil, err
	}

	// 6. Weekly goals
	completed, err := e.updateGoals(next, hoursLogged, today)
	if err != nil {
		return nil, nil, err
	}
	bonusXP := 0
	if completed > 0 {
		bonusXP = completed * GoalBonusXP
		levelUps = append(levelUps, next.absorbXP()...)
	}

	events := levelUps

	// 4. Prestige availability, checked on the final level.
	if cfg := GetPrestigeConfig(next.Prestige); next.Level >= cfg.Cap {
		events = append(events, Event{Kind: EventPrestigeAvailable, Cap: cfg.Cap})
	}

	if completed > 0 {
		events = append(events, Event{Kind: EventGoalComplete, Count: completed, BonusXP: bonusXP})
	}

	// 7. Achievements
	if fresh := EvaluateNewAchievements(next, next.UnlockedSet()); len(fresh) > 0 {
		now := e.clock.Now().UTC()
		for _, def := range fresh {
			next.Achievements = append(next.Achievements, UnlockedAchievement{ID: def.ID, UnlockedAt: now})
		}
		first := fresh[0]
		events = append(events, Event{Kind: EventAchievementUnlocked, Achievement: &first})
	}

	// 8. Title
	next.refreshTitle()

	return next, events, nil
}

// absorbXP advances the level while XP crosses thresholds, one event per level.
func (s *Snapshot) absorbXP() []Event {
	var events []Event
	next := TotalXPToReachLevel(s.Level) + xpForLevelUp(s.Level)
	for s.XP >= next {
		s.Level++
		next += xpForLevelUp(s.Level)
		events = append(events, LevelUpEvent(s.Level, s.Prestige))
	}
	return events
}

// updateStreak applies the consecutive-day rule for a session on today.
func (s *Snapshot) updateStreak(today string) error {
	if s.LastStudiedDate == today {
		return nil
	}

	yesterday, err := timeutil.Yesterday(today)
	if err != nil {
		return shared.ErrMalformedDate
	}

	if s.LastStudiedDate != "" && s.LastStudiedDate == yesterday {
		s.Streak++
	} else {
		s.Streak = 1
	}
	s.LastStudiedDate = today
	return nil
}

// updateGoals rolls the goal set over on a new week, or completes goals met by
// this session. Returns the number of newly completed goals; their bonus XP is
// already added to s.XP.
func (e *Engine) updateGoals(s *Snapshot, hoursLogged float64, today string) (int, error) {
	weekID, err := timeutil.WeekIdentifier(today)
	if err != nil {
		return 0, shared.ErrMalformedDate
	}

	if weekID != s.WeeklyGoals.WeekIdentifier {
		s.WeeklyGoals = WeeklyGoals{WeekIdentifier: weekID, Goals: e.goals.Generate()}
		return 0, nil
	}

	progress := goalProgress{
		sessionHours: hoursLogged,
		weekHours:    s.HoursInWeek(weekID),
		streak:       s.Streak,
	}

	completed := 0
	for i := range s.WeeklyGoals.Goals {
		g := &s.WeeklyGoals.Goals[i]
		if g.Completed || !g.isMet(progress) {
			continue
		}
		g.Completed = true
		bonus := g.XP
		if bonus <= 0 {
			bonus = GoalBonusXP
		}
		s.XP += bonus
		s.TotalGoalsCompleted++
		completed++
	}
	return completed, nil
}

// refreshTitle recomputes the cached default title unless one is equipped.
func (s *Snapshot) refreshTitle() {
	if s.EquippedTitle == "" {
		s.Title = DetermineTitle(s.Level, s.Prestige)
	}
}

// GrantBonus adds flat XP and coins outside of a study session (clan perks).
// The bonus is not scaled by prestige and does not touch the study log,
// streak or goals.
func GrantBonus(s *Snapshot, xp, coins int) (*Snapshot, []Event, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	if xp < 0 || coins < 0 {
		return nil, nil, shared.WrapError("progression", "GrantBonus", shared.ErrInvalidInput, "bonus cannot be negative", shared.ErrNegativeValue)
	}
	if !fitsCounter(s.XP, xp) || !fitsCounter(s.Coins, coins) {
		return nil, nil, shared.NewDomainError("progression", "GrantBonus", shared.ErrValueOutOfRange, "bonus exceeds the progression counters")
	}

	next := s.Clone()
	next.XP += xp
	next.Coins += coins
	events := next.absorbXP()
	if cfg := GetPrestigeConfig(next.Prestige); len(events) > 0 && next.Level >= cfg.Cap {
		events = append(events, Event{Kind: EventPrestigeAvailable, Cap: cfg.Cap})
	}
	next.refreshTitle()
	return next, events, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESTIGE
// ══════════════════════════════════════════════════════════════════════════════

// Prestige resets level and XP in exchange for the next prestige tier.
// Allowed only once the current tier's level cap is reached.
func Prestige(s *Snapshot) (*Snapshot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Level < GetPrestigeConfig(s.Prestige).Cap {
		return nil, shared.ErrPrestigeLocked
	}

	next := s.Clone()
	next.Prestige++
	next.Level = 1
	next.XP = 0
	next.refreshTitle()
	return next, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMINISTRATIVE OVERRIDES
// ══════════════════════════════════════════════════════════════════════════════

// Override describes an administrative change. Nil fields are left untouched.
type Override struct {
	XP       *int
	Coins    *int
	Prestige *int
	Streak   *int
}

// ApplyOverride sets the given fields and restores the level invariant from XP.
func ApplyOverride(s *Snapshot, o Override) (*Snapshot, error) {
	if s == nil {
		return nil, shared.NewDomainError("progression", "ApplyOverride", shared.ErrInvalidEntity, "snapshot is nil")
	}
	for _, v := range []*int{o.XP, o.Coins, o.Prestige, o.Streak} {
		if v != nil && *v < 0 {
			return nil, shared.WrapError("progression", "ApplyOverride", shared.ErrInvalidInput, "override values cannot be negative", shared.ErrNegativeValue)
		}
	}
	for _, v := range []*int{o.XP, o.Coins} {
		if v != nil && *v > MaxCounter {
			return nil, ErrOverrideTooLarge
		}
	}

	next := s.Clone()
	if o.XP != nil {
		next.XP = *o.XP
	}
	if o.Coins != nil {
		next.Coins = *o.Coins
	}
	if o.Prestige != nil {
		next.Prestige = *o.Prestige
	}
	if o.Streak != nil {
		next.Streak = *o.Streak
	}
	next.Level = LevelForXP(next.XP)
	next.refreshTitle()
	return next, nil
}
