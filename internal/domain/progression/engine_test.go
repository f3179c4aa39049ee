package progression

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func fixedGoals(goals ...Goal) GoalGenerator {
	return GoalGeneratorFunc(func() []Goal {
		return append([]Goal(nil), goals...)
	})
}

func newTestEngine(goals ...Goal) *Engine {
	return NewEngine(fixedGoals(goals...), timeutil.FixedClock{T: testNow})
}

func newTestSnapshot(weekID string, goals ...Goal) *Snapshot {
	return &Snapshot{
		ID:           "user-1",
		Name:         "Ada",
		CreatedAt:    testNow,
		Timezone:     "UTC",
		Level:        1,
		StudyLog:     []StudyLogEntry{},
		WeeklyGoals:  WeeklyGoals{WeekIdentifier: weekID, Goals: goals},
		Achievements: []UnlockedAchievement{},
		Title:        DetermineTitle(1, 0),
		Friends:      []shared.UserID{},
		Theme:        DefaultTheme,
		Status:       DefaultStatus,
	}
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// LogStudySession
// ══════════════════════════════════════════════════════════════════════════════

func TestLogStudySession_FirstSession(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")

	next, events, err := engine.LogStudySession(s, 2, "2024-03-04")
	require.NoError(t, err)

	assert.Equal(t, 200, next.XP)
	assert.Equal(t, 200, next.Coins)
	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 1, next.Streak)
	assert.Equal(t, "2024-03-04", next.LastStudiedDate)
	assert.Equal(t, []StudyLogEntry{{Date: "2024-03-04", Hours: 2}}, next.StudyLog)

	require.NotEmpty(t, events)
	assert.Equal(t, Event{Kind: EventLevelUp, NewLevel: 2, NewTitle: "Newcomer"}, events[0])
	assert.Equal(t, 1, countKind(events, EventLevelUp))

	last := events[len(events)-1]
	require.Equal(t, EventAchievementUnlocked, last.Kind)
	assert.Equal(t, AchievementHours1, last.Achievement.ID)
	require.Len(t, next.Achievements, 1)
	assert.Equal(t, testNow, next.Achievements[0].UnlockedAt)

	// input untouched
	assert.Equal(t, 0, s.XP)
	assert.Equal(t, 1, s.Level)
	assert.Empty(t, s.StudyLog)
	assert.Empty(t, s.Achievements)
}

func TestLogStudySession_MultiLevelCrossing(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")

	next, events, err := engine.LogStudySession(s, 5, "2024-03-04")
	require.NoError(t, err)

	assert.Equal(t, 500, next.XP)
	assert.Equal(t, 4, next.Level)

	var levels []int
	for _, e := range events {
		if e.Kind == EventLevelUp {
			levels = append(levels, e.NewLevel)
		}
	}
	assert.Equal(t, []int{2, 3, 4}, levels)
}

func TestLogStudySession_PrestigeMultiplier(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")
	s.Prestige = 2

	next, _, err := engine.LogStudySession(s, 1, "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 200, next.XP)
	assert.Equal(t, 200, next.Coins)
}

func TestLogStudySession_Streak(t *testing.T) {
	tests := []struct {
		name       string
		last       string
		streak     int
		today      string
		wantStreak int
	}{
		{"first session ever", "", 0, "2024-01-02", 1},
		{"consecutive day", "2024-01-01", 3, "2024-01-02", 4},
		{"across year boundary", "2023-12-31", 9, "2024-01-01", 10},
		{"across leap day", "2024-02-29", 2, "2024-03-01", 3},
		{"gap resets", "2024-01-01", 3, "2024-01-05", 1},
		{"same day unchanged", "2024-01-02", 3, "2024-01-02", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine()
			s := newTestSnapshot("")
			s.LastStudiedDate = tt.last
			s.Streak = tt.streak

			next, _, err := engine.LogStudySession(s, 1, tt.today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStreak, next.Streak)
			assert.Equal(t, tt.today, next.LastStudiedDate)
		})
	}
}

func TestLogStudySession_WeeklyGoals(t *testing.T) {
	goals := []Goal{
		{ID: "session_focus_2", Type: GoalSessionHours, Target: 2, Text: "two hours", XP: GoalBonusXP},
		{ID: "weekly_standard_5", Type: GoalWeeklyHours, Target: 5, Text: "five a week", XP: GoalBonusXP},
		{ID: "streak_reach_3", Type: GoalStreakReach, Target: 3, Text: "three days", XP: GoalBonusXP},
	}
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04", goals...)

	// Tuesday: the session goal completes and its bonus pushes past level 3.
	next, events, err := engine.LogStudySession(s, 2, "2024-03-05")
	require.NoError(t, err)

	assert.Equal(t, 250, next.XP)
	assert.Equal(t, 3, next.Level)
	assert.Equal(t, 1, next.TotalGoalsCompleted)
	assert.True(t, next.WeeklyGoals.Goals[0].Completed)
	assert.False(t, next.WeeklyGoals.Goals[1].Completed)
	assert.False(t, next.WeeklyGoals.Goals[2].Completed)
	assert.False(t, s.WeeklyGoals.Goals[0].Completed, "input goals must not change")

	assert.Equal(t, []EventKind{EventLevelUp, EventLevelUp, EventGoalComplete, EventAchievementUnlocked}, eventKinds(events))
	assert.Equal(t, 1, events[2].Count)
	assert.Equal(t, GoalBonusXP, events[2].BonusXP)
	assert.Equal(t, AchievementHours1, events[3].Achievement.ID)
	assert.True(t, next.UnlockedSet()[AchievementGoals1])

	// Wednesday: weekly total reaches 5, the session goal is already done.
	next, events, err = engine.LogStudySession(next, 3, "2024-03-06")
	require.NoError(t, err)

	assert.Equal(t, 2, next.TotalGoalsCompleted)
	assert.True(t, next.WeeklyGoals.Goals[1].Completed)
	assert.Equal(t, 1, countKind(events, EventGoalComplete))
	assert.Equal(t, 250+300+GoalBonusXP, next.XP)

	// Thursday: third consecutive day.
	next, events, err = engine.LogStudySession(next, 1, "2024-03-07")
	require.NoError(t, err)

	assert.Equal(t, 3, next.Streak)
	assert.Equal(t, 3, next.TotalGoalsCompleted)
	assert.True(t, next.WeeklyGoals.Goals[2].Completed)
	assert.Equal(t, 1, countKind(events, EventGoalComplete))

	// Friday: nothing left to complete, goals stay as they are.
	before := next.WeeklyGoals
	next, events, err = engine.LogStudySession(next, 4, "2024-03-08")
	require.NoError(t, err)

	assert.Equal(t, before, next.WeeklyGoals)
	assert.Equal(t, 3, next.TotalGoalsCompleted)
	assert.Zero(t, countKind(events, EventGoalComplete))
}

func TestLogStudySession_NewWeekRegeneratesGoals(t *testing.T) {
	fresh := Goal{ID: "session_block_1", Type: GoalSessionHours, Target: 1, Text: "an hour", XP: GoalBonusXP}
	engine := newTestEngine(fresh)

	old := Goal{ID: "weekly_standard_5", Type: GoalWeeklyHours, Target: 5, Completed: true, XP: GoalBonusXP}
	s := newTestSnapshot("2024-02-26", old)
	s.TotalGoalsCompleted = 4

	next, events, err := engine.LogStudySession(s, 2, "2024-03-04")
	require.NoError(t, err)

	assert.Equal(t, "2024-03-04", next.WeeklyGoals.WeekIdentifier)
	require.Len(t, next.WeeklyGoals.Goals, 1)
	assert.Equal(t, "session_block_1", next.WeeklyGoals.Goals[0].ID)
	assert.False(t, next.WeeklyGoals.Goals[0].Completed, "goals are not evaluated in the rollover call")
	assert.Equal(t, 4, next.TotalGoalsCompleted)
	assert.Zero(t, countKind(events, EventGoalComplete))
}

func TestLogStudySession_PrestigeAvailable(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")
	s.Level = 19
	s.XP = TotalXPToReachLevel(19)

	next, events, err := engine.LogStudySession(s, 6, "2024-03-04")
	require.NoError(t, err)

	assert.Equal(t, 20, next.Level)
	assert.Equal(t, "Adept", next.Title)
	assert.Equal(t, []EventKind{EventLevelUp, EventPrestigeAvailable, EventAchievementUnlocked}, eventKinds(events))
	assert.Equal(t, 20, events[1].Cap)

	// Still at the cap on the next session.
	_, events, err = engine.LogStudySession(next, 1, "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 1, countKind(events, EventPrestigeAvailable))
}

func TestLogStudySession_DayAchievementSumsEntries(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")

	next, _, err := engine.LogStudySession(s, 4, "2024-03-04")
	require.NoError(t, err)
	assert.False(t, next.UnlockedSet()[AchievementDay8h])

	next, _, err = engine.LogStudySession(next, 4, "2024-03-04")
	require.NoError(t, err)
	assert.True(t, next.UnlockedSet()[AchievementDay8h])
	assert.False(t, next.UnlockedSet()[AchievementDay10h])
}

func TestLogStudySession_EquippedTitleIsKept(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")
	s.EquippedTitle = "Centurion"
	s.Title = "Centurion"

	next, _, err := engine.LogStudySession(s, 20, "2024-03-04")
	require.NoError(t, err)
	assert.Greater(t, next.Level, 5)
	assert.Equal(t, "Centurion", next.Title)
	assert.Equal(t, "Centurion", next.DisplayTitle())
}

func TestLogStudySession_RejectsBadInput(t *testing.T) {
	engine := newTestEngine()
	valid := newTestSnapshot("2024-03-04")

	corrupt := newTestSnapshot("2024-03-04")
	corrupt.Level = 0

	behind := newTestSnapshot("2024-03-04")
	behind.Level = 3
	behind.XP = 10

	tests := []struct {
		name  string
		s     *Snapshot
		hours float64
		today string
		want  error
	}{
		{"zero hours", valid, 0, "2024-03-04", shared.ErrNonPositiveHours},
		{"negative hours", valid, -1, "2024-03-04", shared.ErrNonPositiveHours},
		{"NaN hours", valid, math.NaN(), "2024-03-04", shared.ErrNonPositiveHours},
		{"unpadded date", valid, 1, "2024-3-4", shared.ErrMalformedDate},
		{"impossible date", valid, 1, "2024-02-30", shared.ErrMalformedDate},
		{"level below one", corrupt, 1, "2024-03-04", shared.ErrValueOutOfRange},
		{"xp below level threshold", behind, 1, "2024-03-04", shared.ErrInvalidSnapshot},
		{"nil snapshot", nil, 1, "2024-03-04", shared.ErrInvalidEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, events, err := engine.LogStudySession(tt.s, tt.hours, tt.today)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Nil(t, next)
			assert.Nil(t, events)
		})
	}
	assert.Empty(t, valid.StudyLog)
}

func TestLogStudySession_Monotonic(t *testing.T) {
	engine := NewEngine(NewRandomGoalGenerator(3), timeutil.FixedClock{T: testNow})
	rng := rand.New(rand.NewSource(1))
	hourChoices := []float64{0.5, 1, 1.5, 2, 3, 8}

	s := newTestSnapshot("")
	date := "2024-01-01"

	for i := 0; i < 300; i++ {
		next, events, err := engine.LogStudySession(s, hourChoices[rng.Intn(len(hourChoices))], date)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, next.XP, s.XP)
		assert.GreaterOrEqual(t, next.Coins, s.Coins)
		assert.GreaterOrEqual(t, next.Level, s.Level)
		assert.GreaterOrEqual(t, next.TotalGoalsCompleted, s.TotalGoalsCompleted)
		assert.GreaterOrEqual(t, len(next.Achievements), len(s.Achievements))
		assert.Equal(t, next.Level-s.Level, countKind(events, EventLevelUp))

		require.LessOrEqual(t, TotalXPToReachLevel(next.Level), next.XP)
		require.Less(t, next.XP, TotalXPToReachLevel(next.Level+1))

		seen := make(map[AchievementID]bool)
		for _, a := range next.Achievements {
			require.False(t, seen[a.ID], "duplicate unlock %s", a.ID)
			seen[a.ID] = true
		}

		s = next
		date, err = timeutil.AddDays(date, rng.Intn(3))
		require.NoError(t, err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// Achievements
// ══════════════════════════════════════════════════════════════════════════════

func TestLogStudySession_RejectsCounterOverflow(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")

	for _, hours := range []float64{1e300, 2.2e7} {
		next, events, err := engine.LogStudySession(s, hours, "2024-03-04")
		assert.True(t, errors.Is(err, ErrSessionTooLarge), "hours=%g", hours)
		assert.True(t, shared.IsValidation(err))
		assert.Nil(t, next)
		assert.Nil(t, events)
	}

	// Near the bound the goal bonus headroom counts too.
	s.XP = MaxCounter - 100
	s.Level = LevelForXP(s.XP)
	_, _, err := engine.LogStudySession(s, 0.5, "2024-03-04")
	assert.True(t, errors.Is(err, ErrSessionTooLarge))

	assert.Empty(t, s.StudyLog, "input must not change")
}

func TestLogStudySession_LargeSessionLevelsUpLinearly(t *testing.T) {
	engine := newTestEngine()
	s := newTestSnapshot("2024-03-04")

	next, events, err := engine.LogStudySession(s, 2e7, "2024-03-04")
	require.NoError(t, err)

	assert.Equal(t, 2_000_000_000, next.XP)
	assert.Equal(t, 2_000_000_000, next.Coins)
	assert.Equal(t, LevelForXP(next.XP), next.Level)
	assert.LessOrEqual(t, TotalXPToReachLevel(next.Level), next.XP)
	assert.Less(t, next.XP, TotalXPToReachLevel(next.Level+1))
	assert.Equal(t, next.Level-1, countKind(events, EventLevelUp))
	assert.NoError(t, next.Validate())
}

func TestGrantBonus_RejectsCounterOverflow(t *testing.T) {
	s := newTestSnapshot("2024-03-04")
	s.Coins = MaxCounter

	_, _, err := GrantBonus(s, 10, 1)
	assert.True(t, errors.Is(err, shared.ErrValueOutOfRange))

	next, _, err := GrantBonus(s, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, next.XP)
}

func TestNewEngine_RequiresGoalGenerator(t *testing.T) {
	assert.Panics(t, func() { NewEngine(nil, timeutil.FixedClock{T: testNow}) })
	assert.NotPanics(t, func() { NewEngine(NewRandomGoalGenerator(1), nil) })
}

func TestEvaluateNewAchievements_Idempotent(t *testing.T) {
	s := newTestSnapshot("2024-03-04")
	s.StudyLog = []StudyLogEntry{{Date: "2024-03-04", Hours: 12}}
	s.Streak = 7

	first := EvaluateNewAchievements(s, s.UnlockedSet())
	require.NotEmpty(t, first)

	ids := make([]AchievementID, len(first))
	for i, def := range first {
		ids[i] = def.ID
		s.Achievements = append(s.Achievements, UnlockedAchievement{ID: def.ID, UnlockedAt: testNow})
	}
	assert.Equal(t, []AchievementID{
		AchievementHours1, AchievementHours10, AchievementStreak7, AchievementDay8h, AchievementDay10h,
	}, ids)

	assert.Empty(t, EvaluateNewAchievements(s, s.UnlockedSet()))
}

func TestEvaluateNewAchievements_CosmeticState(t *testing.T) {
	s := newTestSnapshot("2024-03-04")
	assert.Empty(t, EvaluateNewAchievements(s, nil))

	s.Theme = "midnight"
	s.Status = "cramming for finals"
	s.Friends = []shared.UserID{"a", "b", "c", "d", "e"}

	var ids []AchievementID
	for _, def := range EvaluateNewAchievements(s, nil) {
		ids = append(ids, def.ID)
	}
	assert.Equal(t, []AchievementID{
		AchievementFirstFriend, AchievementFiveFriends, AchievementThemeChanged, AchievementStatusChanged,
	}, ids)
}

func TestRewardTitles_SkipsRetiredIDs(t *testing.T) {
	s := newTestSnapshot("2024-03-04")
	s.Achievements = []UnlockedAchievement{
		{ID: AchievementHours1},
		{ID: "retired_badge"},
		{ID: AchievementStreak7},
	}
	assert.Equal(t, []string{"Novice Scholar", "On Fire"}, s.RewardTitles())
}

// ══════════════════════════════════════════════════════════════════════════════
// Prestige and overrides
// ══════════════════════════════════════════════════════════════════════════════

func TestPrestige(t *testing.T) {
	s := newTestSnapshot("2024-03-04")
	s.Level = 19
	s.XP = TotalXPToReachLevel(19)
	s.Coins = 900

	_, err := Prestige(s)
	assert.True(t, errors.Is(err, shared.ErrPrestigeLocked))

	s.Level = 20
	s.XP = TotalXPToReachLevel(20) + 10
	next, err := Prestige(s)
	require.NoError(t, err)

	assert.Equal(t, 1, next.Prestige)
	assert.Equal(t, 1, next.Level)
	assert.Equal(t, 0, next.XP)
	assert.Equal(t, 900, next.Coins)
	assert.Equal(t, "[Prestige 1] Newcomer", next.Title)
	assert.Equal(t, 30, next.Progress().Cap)
	assert.Equal(t, 20, s.Level)
}

func TestApplyOverride(t *testing.T) {
	s := newTestSnapshot("2024-03-04")

	xp, coins := 225, 40
	next, err := ApplyOverride(s, Override{XP: &xp, Coins: &coins})
	require.NoError(t, err)
	assert.Equal(t, 3, next.Level)
	assert.Equal(t, 40, next.Coins)
	assert.NoError(t, next.Validate())
	assert.Equal(t, 0, s.XP)

	negative := -5
	_, err = ApplyOverride(s, Override{Streak: &negative})
	assert.True(t, errors.Is(err, shared.ErrNegativeValue))
}

func TestApplyOverride_Bounds(t *testing.T) {
	s := newTestSnapshot("2024-03-04")

	xp := MaxCounter
	next, err := ApplyOverride(s, Override{XP: &xp})
	require.NoError(t, err)
	assert.LessOrEqual(t, TotalXPToReachLevel(next.Level), next.XP)
	assert.Less(t, next.XP, TotalXPToReachLevel(next.Level+1))

	tooMuch := MaxCounter + 1
	_, err = ApplyOverride(s, Override{XP: &tooMuch})
	assert.True(t, errors.Is(err, ErrOverrideTooLarge))
	_, err = ApplyOverride(s, Override{Coins: &tooMuch})
	assert.True(t, errors.Is(err, shared.ErrValueOutOfRange))
}

func TestSnapshot_Progress(t *testing.T) {
	s := newTestSnapshot("2024-03-04")
	s.Level = 2
	s.XP = 150

	p := s.Progress()
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 50, p.XPIntoLevel)
	assert.Equal(t, 125, p.XPForLevelUp)
	assert.InDelta(t, 40.0, p.Percent, 0.001)
	assert.False(t, p.CanPrestige)
}

func TestNewSnapshot(t *testing.T) {
	s, err := NewSnapshot(NewSnapshotParams{
		ID:        "user-7",
		Name:      "Lin",
		Timezone:  "Asia/Almaty",
		Today:     "2024-03-06",
		CreatedAt: testNow,
		Goals:     NewRandomGoalGenerator(1),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Level)
	assert.Equal(t, "2024-03-04", s.WeeklyGoals.WeekIdentifier)
	assert.Len(t, s.WeeklyGoals.Goals, GoalsPerWeek)
	assert.Equal(t, "Newcomer", s.Title)
	assert.NoError(t, s.Validate())

	_, err = NewSnapshot(NewSnapshotParams{ID: "user-8", Timezone: "Mars/Olympus", Today: "2024-03-06", Goals: NewRandomGoalGenerator(1)})
	assert.Error(t, err)
}

func TestEvent_ToDomainEvent(t *testing.T) {
	ev := LevelUpEvent(5, 1).ToDomainEvent("user-1", testNow)

	assert.Equal(t, shared.EventLevelUp, ev.EventType())
	assert.Equal(t, "user-1", ev.AggregateID())
	assert.Equal(t, 5, ev.Payload()["new_level"])
	assert.Equal(t, "[Prestige 1] Apprentice", ev.Payload()["new_title"])
}
