package progression

import (
	"math"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP CURVE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// baseLevelUpXP - XP needed to go from level 1 to level 2.
	baseLevelUpXP = 100
	// levelUpXPStep - extra XP needed for each subsequent level.
	levelUpXPStep = 25

	// XPPerHour - XP (and coins) earned per studied hour at multiplier 1.0.
	XPPerHour = 100

	// basePrestigeCap - level cap at prestige 0.
	basePrestigeCap = 20
	// prestigeCapStep - cap increase per prestige tier.
	prestigeCapStep = 10
	// prestigeMultiplierStep - multiplier increase per prestige tier.
	prestigeMultiplierStep = 0.5

	// MaxCounter bounds XP and coins. Sessions and overrides that would pass
	// it are rejected.
	MaxCounter = math.MaxInt32
)

// XPForLevelUp returns the XP required to advance from level to level+1.
func XPForLevelUp(level int) (int, error) {
	if level < 1 {
		return 0, ErrLevelOutOfDomain
	}
	return baseLevelUpXP + (level-1)*levelUpXPStep, nil
}

// xpForLevelUp is XPForLevelUp for callers that already validated the level.
func xpForLevelUp(level int) int {
	return baseLevelUpXP + (level-1)*levelUpXPStep
}

// TotalXPToReachLevel returns the cumulative XP needed to reach level from level 1.
func TotalXPToReachLevel(level int) int {
	if level <= 1 {
		return 0
	}
	n := level - 1
	return baseLevelUpXP*n + levelUpXPStep*n*(n-1)/2
}

// LevelForXP returns the highest level whose cumulative threshold xp has reached.
func LevelForXP(xp int) int {
	level, next := 1, xpForLevelUp(1)
	for xp >= next {
		level++
		next += xpForLevelUp(level)
	}
	return level
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESTIGE
// ══════════════════════════════════════════════════════════════════════════════

// PrestigeConfig is the level cap and gain multiplier of a prestige tier.
type PrestigeConfig struct {
	Cap        int     `json:"cap"`
	Multiplier float64 `json:"multiplier"`
}

// GetPrestigeConfig returns the configuration for a prestige tier.
func GetPrestigeConfig(prestige int) PrestigeConfig {
	if prestige < 0 {
		prestige = 0
	}
	return PrestigeConfig{
		Cap:        basePrestigeCap + prestige*prestigeCapStep,
		Multiplier: 1.0 + float64(prestige)*prestigeMultiplierStep,
	}
}

// SessionReward returns the XP and coins earned for a session of the given length.
// Coins and XP use the same formula. Gains past MaxCounter come back as
// MaxCounter+1 so callers can reject them.
func SessionReward(hours float64, prestige int) (xp, coins int) {
	gain := roundHalfUp(hours * XPPerHour * GetPrestigeConfig(prestige).Multiplier)
	return gain, gain
}

// roundHalfUp rounds x to the nearest integer, halves going up, saturating
// just past MaxCounter.
func roundHalfUp(x float64) int {
	r := math.Floor(x + 0.5)
	if r > MaxCounter {
		return MaxCounter + 1
	}
	return int(r)
}

// fitsCounter reports whether cur+delta stays within MaxCounter.
func fitsCounter(cur, delta int) bool {
	return delta <= MaxCounter-cur
}

var (
	// ErrLevelOutOfDomain is returned for levels below 1.
	ErrLevelOutOfDomain = shared.ErrLevelOutOfDomain

	ErrSessionTooLarge  = shared.ErrSessionTooLarge
	ErrOverrideTooLarge = shared.ErrOverrideTooLarge
)
