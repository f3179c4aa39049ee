// Package progression contains the StudyQuest progression and rewards rules.
//
// It is the core of the service: a logged study session turns into XP,
// levels, prestige availability, streak updates, weekly goal completion,
// achievement unlocks and coins. Everything here is a pure function over a
// Snapshot value:
//
//   - Curves: XPForLevelUp, TotalXPToReachLevel, GetPrestigeConfig
//   - Titles: DetermineTitle
//   - Weekly goals: GoalGenerator, RandomGoalGenerator
//   - Achievements: EvaluateNewAchievements over a closed catalog
//   - Engine: LogStudySession, Prestige, ApplyOverride
//   - Integrity: ComputeHash, Verify
//
// # Usage
//
//	engine := progression.NewEngine(progression.NewRandomGoalGenerator(seed), clock)
//
//	next, events, err := engine.LogStudySession(snapshot, 2, "2024-03-04")
//	if err != nil {
//	    return err // precondition violation, nothing was applied
//	}
//	next = progression.Seal(next, salt)
//	// persist next, then deliver events in order
//
// The engine never touches storage. Two concurrent calls on copies of the
// same snapshot lose one session on save; callers lock per user and save
// with a version check (see Repository and Locker).
package progression
