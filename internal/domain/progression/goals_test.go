package progression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomGoalGenerator_ProducesValidSet(t *testing.T) {
	gen := NewRandomGoalGenerator(42)
	known := make(map[string]bool)
	for _, id := range GoalTemplateIDs() {
		known[id] = true
	}

	for round := 0; round < 200; round++ {
		goals := gen.Generate()
		require.Len(t, goals, GoalsPerWeek)

		templates := make(map[string]bool)
		for _, g := range goals {
			assert.Equal(t, GoalBonusXP, g.XP)
			assert.False(t, g.Completed)
			assert.NotEmpty(t, g.Text)

			sep := strings.LastIndex(g.ID, "_")
			require.Greater(t, sep, 0, g.ID)
			tpl := g.ID[:sep]
			assert.True(t, known[tpl], "unknown template %s", tpl)
			assert.Equal(t, formatTarget(g.Target), g.ID[sep+1:])
			assert.False(t, templates[tpl], "template %s drawn twice", tpl)
			templates[tpl] = true

			assertTargetInRange(t, tpl, g)
		}
	}
}

func assertTargetInRange(t *testing.T, tpl string, g Goal) {
	t.Helper()
	switch tpl {
	case "session_focus":
		assert.Equal(t, GoalSessionHours, g.Type)
		assert.Contains(t, []float64{2, 3}, g.Target)
	case "session_block":
		assert.Equal(t, GoalSessionHours, g.Type)
		assert.Contains(t, []float64{1, 1.5}, g.Target)
	case "weekly_standard":
		assert.Equal(t, GoalWeeklyHours, g.Type)
		assert.GreaterOrEqual(t, g.Target, 5.0)
		assert.LessOrEqual(t, g.Target, 10.0)
	case "weekly_ambitious":
		assert.Equal(t, GoalWeeklyHours, g.Type)
		assert.GreaterOrEqual(t, g.Target, 10.0)
		assert.LessOrEqual(t, g.Target, 15.0)
	case "streak_reach":
		assert.Equal(t, GoalStreakReach, g.Type)
		assert.Contains(t, []float64{3, 5, 7, 10}, g.Target)
	}
}

func TestRandomGoalGenerator_SeedIsDeterministic(t *testing.T) {
	a := NewRandomGoalGenerator(7).Generate()
	b := NewRandomGoalGenerator(7).Generate()
	assert.Equal(t, a, b)
}

func TestSessionBlockText(t *testing.T) {
	for _, tpl := range goalTemplates {
		if tpl.id == "session_block" {
			assert.Equal(t, "Complete a 90-minute study block", tpl.text(1.5))
			assert.Equal(t, "Complete a 60-minute study block", tpl.text(1))
		}
	}
}

func TestGoal_UnknownTypeNeverCompletes(t *testing.T) {
	g := Goal{ID: "retired_5", Type: GoalType("pages_read"), Target: 1}
	assert.False(t, g.isMet(goalProgress{sessionHours: 100, weekHours: 100, streak: 100}))
}

func TestGenerateNewWeeklyGoals(t *testing.T) {
	assert.Len(t, GenerateNewWeeklyGoals(), GoalsPerWeek)
}
