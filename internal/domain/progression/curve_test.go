package progression

import (
	"errors"
	"testing"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPForLevelUp(t *testing.T) {
	tests := []struct {
		level int
		want  int
	}{
		{1, 100},
		{2, 125},
		{5, 200},
		{20, 575},
	}

	for _, tt := range tests {
		got, err := XPForLevelUp(tt.level)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "level %d", tt.level)
	}
}

func TestXPForLevelUp_RejectsLevelBelowOne(t *testing.T) {
	for _, level := range []int{0, -1, -100} {
		_, err := XPForLevelUp(level)
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrValueOutOfRange))
	}
}

func TestTotalXPToReachLevel(t *testing.T) {
	assert.Equal(t, 0, TotalXPToReachLevel(0))
	assert.Equal(t, 0, TotalXPToReachLevel(1))
	assert.Equal(t, 100, TotalXPToReachLevel(2))
	assert.Equal(t, 225, TotalXPToReachLevel(3))
	assert.Equal(t, 550, TotalXPToReachLevel(5))

	for level := 1; level < 60; level++ {
		step, err := XPForLevelUp(level)
		require.NoError(t, err)
		assert.Equal(t, TotalXPToReachLevel(level)+step, TotalXPToReachLevel(level+1))
	}
}

func TestLevelForXP(t *testing.T) {
	assert.Equal(t, 1, LevelForXP(0))
	assert.Equal(t, 1, LevelForXP(99))
	assert.Equal(t, 2, LevelForXP(100))
	assert.Equal(t, 2, LevelForXP(224))
	assert.Equal(t, 3, LevelForXP(225))
	assert.Equal(t, 4, LevelForXP(500))

	for level := 1; level <= 300; level++ {
		start := TotalXPToReachLevel(level)
		assert.Equal(t, level, LevelForXP(start), "start of level %d", level)
		if level > 1 {
			assert.Equal(t, level-1, LevelForXP(start-1), "just below level %d", level)
		}
	}
}

func TestSessionReward_Saturates(t *testing.T) {
	xp, coins := SessionReward(1e300, 0)
	assert.Equal(t, MaxCounter+1, xp)
	assert.Equal(t, MaxCounter+1, coins)

	xp, _ = SessionReward(1.5, 1)
	assert.Equal(t, 225, xp)
}

func TestGetPrestigeConfig(t *testing.T) {
	assert.Equal(t, PrestigeConfig{Cap: 20, Multiplier: 1.0}, GetPrestigeConfig(0))
	assert.Equal(t, PrestigeConfig{Cap: 30, Multiplier: 1.5}, GetPrestigeConfig(1))
	assert.Equal(t, PrestigeConfig{Cap: 40, Multiplier: 2.0}, GetPrestigeConfig(2))
}

func TestSessionReward(t *testing.T) {
	xp, coins := SessionReward(2, 0)
	assert.Equal(t, 200, xp)
	assert.Equal(t, coins, xp)

	xp, _ = SessionReward(1, 2)
	assert.Equal(t, 200, xp)

	xp, _ = SessionReward(0.125, 0) // 12.5 rounds up
	assert.Equal(t, 13, xp)

	xp, _ = SessionReward(1.25, 1)
	assert.Equal(t, 188, xp) // 187.5
}

func TestDetermineTitle(t *testing.T) {
	tests := []struct {
		level    int
		prestige int
		want     string
	}{
		{1, 0, "Newcomer"},
		{4, 0, "Newcomer"},
		{5, 0, "Apprentice"},
		{9, 0, "Apprentice"},
		{10, 0, "Journeyman"},
		{20, 0, "Adept"},
		{30, 0, "Expert"},
		{40, 0, "Master"},
		{49, 0, "Master"},
		{50, 0, "Grandmaster"},
		{120, 0, "Grandmaster"},
		{1, 1, "[Prestige 1] Newcomer"},
		{35, 3, "[Prestige 3] Expert"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetermineTitle(tt.level, tt.prestige), "level %d prestige %d", tt.level, tt.prestige)
	}
}
