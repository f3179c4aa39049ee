package progression

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementID is a stable key persisted with every unlock.
type AchievementID string

const (
	// Cumulative hours
	AchievementHours1    AchievementID = "hours_1"
	AchievementHours10   AchievementID = "hours_10"
	AchievementHours50   AchievementID = "hours_50"
	AchievementHours100  AchievementID = "hours_100"
	AchievementHours250  AchievementID = "hours_250"
	AchievementHours500  AchievementID = "hours_500"
	AchievementHours1000 AchievementID = "hours_1000"

	// Levels
	AchievementLevel5  AchievementID = "level_5"
	AchievementLevel10 AchievementID = "level_10"
	AchievementLevel20 AchievementID = "level_20"
	AchievementLevel30 AchievementID = "level_30"
	AchievementLevel40 AchievementID = "level_40"
	AchievementLevel50 AchievementID = "level_50"
	AchievementLevel75 AchievementID = "level_75"

	// Streaks
	AchievementStreak7   AchievementID = "streak_7"
	AchievementStreak14  AchievementID = "streak_14"
	AchievementStreak30  AchievementID = "streak_30"
	AchievementStreak60  AchievementID = "streak_60"
	AchievementStreak100 AchievementID = "streak_100"

	// Single day
	AchievementDay8h  AchievementID = "day_8h"
	AchievementDay10h AchievementID = "day_10h"

	// Weekly goals
	AchievementGoals1  AchievementID = "goals_1"
	AchievementGoals5  AchievementID = "goals_5"
	AchievementGoals15 AchievementID = "goals_15"
	AchievementGoals30 AchievementID = "goals_30"
	AchievementGoals50 AchievementID = "goals_50"

	// One-off state checks
	AchievementFirstFriend   AchievementID = "friend_1"
	AchievementFiveFriends   AchievementID = "friends_5"
	AchievementThemeChanged  AchievementID = "theme_changed"
	AchievementStatusChanged AchievementID = "status_changed"
)

// AchievementDefinition describes one achievement and how it unlocks.
type AchievementDefinition struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	RewardTitle string        `json:"rewardTitle"`

	predicate func(s *Snapshot) bool
}

// Unlocked reports whether the predicate holds for s.
func (d AchievementDefinition) Unlocked(s *Snapshot) bool {
	return d.predicate != nil && d.predicate(s)
}

func totalHoursAtLeast(h float64) func(*Snapshot) bool {
	return func(s *Snapshot) bool { return s.TotalHours() >= h }
}

func levelAtLeast(l int) func(*Snapshot) bool {
	return func(s *Snapshot) bool { return s.Level >= l }
}

func streakAtLeast(n int) func(*Snapshot) bool {
	return func(s *Snapshot) bool { return s.Streak >= n }
}

// dayHoursAtLeast sums every entry sharing a date.
func dayHoursAtLeast(h float64) func(*Snapshot) bool {
	return func(s *Snapshot) bool { return s.MaxDailyHours() >= h }
}

func goalsAtLeast(n int) func(*Snapshot) bool {
	return func(s *Snapshot) bool { return s.TotalGoalsCompleted >= n }
}

func friendsAtLeast(n int) func(*Snapshot) bool {
	return func(s *Snapshot) bool { return len(s.Friends) >= n }
}

// achievementCatalog is the read-only, ordered catalog. Order is the
// notification order.
var achievementCatalog = []AchievementDefinition{
	{AchievementHours1, "First Steps", "Study for a total of 1 hour", "Novice Scholar", totalHoursAtLeast(1)},
	{AchievementHours10, "Getting Serious", "Study for a total of 10 hours", "Dedicated Learner", totalHoursAtLeast(10)},
	{AchievementHours50, "Bookworm", "Study for a total of 50 hours", "Bookworm", totalHoursAtLeast(50)},
	{AchievementHours100, "Centurion", "Study for a total of 100 hours", "Centurion", totalHoursAtLeast(100)},
	{AchievementHours250, "Scholar", "Study for a total of 250 hours", "Scholar", totalHoursAtLeast(250)},
	{AchievementHours500, "Sage", "Study for a total of 500 hours", "Sage", totalHoursAtLeast(500)},
	{AchievementHours1000, "Living Library", "Study for a total of 1000 hours", "Living Library", totalHoursAtLeast(1000)},

	{AchievementLevel5, "Level 5", "Reach level 5", "Rising Star", levelAtLeast(5)},
	{AchievementLevel10, "Level 10", "Reach level 10", "Double Digits", levelAtLeast(10)},
	{AchievementLevel20, "Level 20", "Reach level 20", "Seasoned", levelAtLeast(20)},
	{AchievementLevel30, "Level 30", "Reach level 30", "Veteran", levelAtLeast(30)},
	{AchievementLevel40, "Level 40", "Reach level 40", "Elite", levelAtLeast(40)},
	{AchievementLevel50, "Level 50", "Reach level 50", "Legend", levelAtLeast(50)},
	{AchievementLevel75, "Level 75", "Reach level 75", "Mythic", levelAtLeast(75)},

	{AchievementStreak7, "On Fire", "Study 7 days in a row", "On Fire", streakAtLeast(7)},
	{AchievementStreak14, "Unstoppable", "Study 14 days in a row", "Unstoppable", streakAtLeast(14)},
	{AchievementStreak30, "Iron Will", "Study 30 days in a row", "Iron Will", streakAtLeast(30)},
	{AchievementStreak60, "Habit Formed", "Study 60 days in a row", "Creature of Habit", streakAtLeast(60)},
	{AchievementStreak100, "Centennial", "Study 100 days in a row", "Centennial", streakAtLeast(100)},

	{AchievementDay8h, "Marathon", "Log 8 hours in a single day", "Marathoner", dayHoursAtLeast(8)},
	{AchievementDay10h, "Deep Focus", "Log 10 hours in a single day", "Deep Focus", dayHoursAtLeast(10)},

	{AchievementGoals1, "Goal Getter", "Complete your first weekly goal", "Goal Getter", goalsAtLeast(1)},
	{AchievementGoals5, "Achiever", "Complete 5 weekly goals", "Achiever", goalsAtLeast(5)},
	{AchievementGoals15, "Overachiever", "Complete 15 weekly goals", "Overachiever", goalsAtLeast(15)},
	{AchievementGoals30, "Goal Crusher", "Complete 30 weekly goals", "Goal Crusher", goalsAtLeast(30)},
	{AchievementGoals50, "Relentless", "Complete 50 weekly goals", "Relentless", goalsAtLeast(50)},

	{AchievementFirstFriend, "Study Buddy", "Add your first friend", "Study Buddy", friendsAtLeast(1)},
	{AchievementFiveFriends, "Study Group", "Have 5 friends", "Social Scholar", friendsAtLeast(5)},
	{AchievementThemeChanged, "Interior Designer", "Change your theme", "Stylist", func(s *Snapshot) bool {
		return s.Theme != "" && s.Theme != DefaultTheme
	}},
	{AchievementStatusChanged, "Self Expression", "Set a custom status", "Expressive", func(s *Snapshot) bool {
		return s.Status != "" && s.Status != DefaultStatus
	}},
}

var achievementIndex = func() map[AchievementID]int {
	idx := make(map[AchievementID]int, len(achievementCatalog))
	for i, d := range achievementCatalog {
		idx[d.ID] = i
	}
	return idx
}()

// Achievements returns the catalog in notification order.
func Achievements() []AchievementDefinition {
	out := make([]AchievementDefinition, len(achievementCatalog))
	copy(out, achievementCatalog)
	return out
}

// LookupAchievement finds a definition by id. Persisted ids that are no
// longer in the catalog report false.
func LookupAchievement(id AchievementID) (AchievementDefinition, bool) {
	i, ok := achievementIndex[id]
	if !ok {
		return AchievementDefinition{}, false
	}
	return achievementCatalog[i], true
}

// EvaluateNewAchievements returns, in catalog order, the achievements that are
// not in unlocked and whose predicate holds for s.
func EvaluateNewAchievements(s *Snapshot, unlocked map[AchievementID]bool) []AchievementDefinition {
	var fresh []AchievementDefinition
	for _, def := range achievementCatalog {
		if unlocked[def.ID] {
			continue
		}
		if def.Unlocked(s) {
			fresh = append(fresh, def)
		}
	}
	return fresh
}

// RewardTitles returns the titles earned through the snapshot's achievements.
// Ids unknown to the catalog are skipped.
func (s *Snapshot) RewardTitles() []string {
	titles := make([]string, 0, len(s.Achievements))
	for _, a := range s.Achievements {
		if def, ok := LookupAchievement(a.ID); ok {
			titles = append(titles, def.RewardTitle)
		}
	}
	return titles
}
