package progression

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// GoalType is the kind of check a weekly goal performs.
type GoalType string

const (
	// GoalSessionHours - a single session of at least Target hours.
	GoalSessionHours GoalType = "session_hours"
	// GoalWeeklyHours - at least Target hours in total this week.
	GoalWeeklyHours GoalType = "weekly_hours"
	// GoalStreakReach - a streak of at least Target days.
	GoalStreakReach GoalType = "streak_reach"
)

const (
	// GoalsPerWeek - number of goals handed out each week.
	GoalsPerWeek = 3
	// GoalBonusXP - XP awarded for completing one goal.
	GoalBonusXP = 50
)

// Goal is one weekly challenge. Completed never flips back within a week.
type Goal struct {
	ID        string   `json:"id"`
	Type      GoalType `json:"type"`
	Target    float64  `json:"target"`
	Text      string   `json:"text"`
	XP        int      `json:"xp"`
	Completed bool     `json:"completed"`
}

// WeeklyGoals is the goal set of one week, keyed by the week's Monday.
type WeeklyGoals struct {
	WeekIdentifier string `json:"weekIdentifier"`
	Goals          []Goal `json:"goals"`
}

// goalTemplate produces goals of one family.
type goalTemplate struct {
	id      string
	kind    GoalType
	targets func(r *rand.Rand) float64
	text    func(target float64) string
}

func pick(values ...float64) func(r *rand.Rand) float64 {
	return func(r *rand.Rand) float64 {
		return values[r.Intn(len(values))]
	}
}

func between(lo, hi int) func(r *rand.Rand) float64 {
	return func(r *rand.Rand) float64 {
		return float64(lo + r.Intn(hi-lo+1))
	}
}

// goalTemplates is the read-only template catalog.
var goalTemplates = []goalTemplate{
	{
		id:      "session_focus",
		kind:    GoalSessionHours,
		targets: pick(2, 3),
		text: func(t float64) string {
			return fmt.Sprintf("Study for %s hours in a single session", formatTarget(t))
		},
	},
	{
		id:      "session_block",
		kind:    GoalSessionHours,
		targets: pick(1, 1.5),
		text: func(t float64) string {
			return fmt.Sprintf("Complete a %d-minute study block", int(t*60))
		},
	},
	{
		id:      "weekly_standard",
		kind:    GoalWeeklyHours,
		targets: between(5, 10),
		text: func(t float64) string {
			return fmt.Sprintf("Study a total of %s hours this week", formatTarget(t))
		},
	},
	{
		id:      "weekly_ambitious",
		kind:    GoalWeeklyHours,
		targets: between(10, 15),
		text: func(t float64) string {
			return fmt.Sprintf("Push for %s hours of study this week", formatTarget(t))
		},
	},
	{
		id:      "streak_reach",
		kind:    GoalStreakReach,
		targets: pick(3, 5, 7, 10),
		text: func(t float64) string {
			return fmt.Sprintf("Reach a %s-day study streak", formatTarget(t))
		},
	},
}

func formatTarget(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

// GoalTemplateIDs returns the ids of all goal templates in catalog order.
func GoalTemplateIDs() []string {
	ids := make([]string, len(goalTemplates))
	for i, t := range goalTemplates {
		ids[i] = t.id
	}
	return ids
}

// GoalGenerator hands out a fresh goal set when a new week begins.
type GoalGenerator interface {
	Generate() []Goal
}

// GoalGeneratorFunc adapts a function to GoalGenerator.
type GoalGeneratorFunc func() []Goal

// Generate implements GoalGenerator.
func (f GoalGeneratorFunc) Generate() []Goal { return f() }

// RandomGoalGenerator shuffles the template catalog and rolls targets.
// Safe for concurrent use.
type RandomGoalGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGoalGenerator creates a generator with the given seed.
func NewRandomGoalGenerator(seed int64) *RandomGoalGenerator {
	return &RandomGoalGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns exactly GoalsPerWeek new, incomplete goals.
func (g *RandomGoalGenerator) Generate() []Goal {
	g.mu.Lock()
	defer g.mu.Unlock()

	order := g.rng.Perm(len(goalTemplates))
	goals := make([]Goal, 0, GoalsPerWeek)
	for _, idx := range order[:GoalsPerWeek] {
		tpl := goalTemplates[idx]
		target := tpl.targets(g.rng)
		goals = append(goals, Goal{
			ID:     tpl.id + "_" + formatTarget(target),
			Type:   tpl.kind,
			Target: target,
			Text:   tpl.text(target),
			XP:     GoalBonusXP,
		})
	}
	return goals
}

// GenerateNewWeeklyGoals draws a goal set from an unseeded generator.
func GenerateNewWeeklyGoals() []Goal {
	return defaultGoals.Generate()
}

var defaultGoals = NewRandomGoalGenerator(rand.Int63())

// goalProgress carries the state a goal check reads.
type goalProgress struct {
	sessionHours float64
	weekHours    float64
	streak       int
}

// isMet evaluates a goal. Unknown goal types never complete.
func (g Goal) isMet(p goalProgress) bool {
	switch g.Type {
	case GoalSessionHours:
		return p.sessionHours >= g.Target
	case GoalWeeklyHours:
		return p.weekHours >= g.Target
	case GoalStreakReach:
		return float64(p.streak) >= g.Target
	default:
		return false
	}
}
