package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/memory"
)

const salt = "test-salt"

var testNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, repo progression.Repository, xp int, seal bool) {
	t.Helper()
	s := &progression.Snapshot{
		ID:        "u1",
		Name:      "Ada",
		Timezone:  "Europe/Berlin",
		CreatedAt: testNow,
		Level:     progression.LevelForXP(xp),
		XP:        xp,
		StudyLog:  []progression.StudyLogEntry{{Date: "2024-03-04", Hours: 1.5}},
	}
	if seal {
		s = progression.Seal(s, salt)
	}
	require.NoError(t, repo.Create(context.Background(), s))
}

func TestGetProgress(t *testing.T) {
	store := memory.NewStore()
	seedUser(t, store.Progressions(), 150, true)
	cache := memory.NewSnapshotCache()

	h := NewGetProgressHandler(store.Progressions(), cache, time.Minute, salt, nil)
	dto, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "u1", dto.UserID)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 50, dto.Progress.XPIntoLevel)
	assert.Equal(t, 125, dto.Progress.XPForLevelUp)
	assert.InDelta(t, 40.0, dto.Progress.Percent, 1e-9)
	assert.Equal(t, 20, dto.Progress.Cap)
	assert.False(t, dto.Progress.CanPrestige)
	assert.Equal(t, progression.DetermineTitle(2, 0), dto.Title)
	assert.Equal(t, 1.5, dto.TotalHours)
	assert.True(t, dto.Trusted)
	assert.Empty(t, dto.StudyLog)
	assert.NotNil(t, dto.Achievements)

	_, err = cache.Get(context.Background(), "u1")
	assert.NoError(t, err, "a miss warms the cache")
}

func TestGetProgress_UntrustedAndStudyLog(t *testing.T) {
	store := memory.NewStore()
	seedUser(t, store.Progressions(), 0, false)

	h := NewGetProgressHandler(store.Progressions(), nil, 0, salt, nil)
	dto, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1", IncludeStudyLog: true})
	require.NoError(t, err)

	assert.False(t, dto.Trusted)
	assert.Len(t, dto.StudyLog, 1)
}

func TestGetProgress_Errors(t *testing.T) {
	h := NewGetProgressHandler(memory.NewStore().Progressions(), nil, 0, salt, nil)

	_, err := h.Handle(context.Background(), GetProgressQuery{UserID: "missing"})
	assert.ErrorIs(t, err, shared.ErrUserNotFound)

	_, err = h.Handle(context.Background(), GetProgressQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestGetClan(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Clans().Create(context.Background(), &clan.Snapshot{
		ID:    "c1",
		Name:  "Night Owls",
		Level: 2,
		CXP:   200,
	}))

	h := NewGetClanHandler(store.Clans())
	dto, err := h.Handle(context.Background(), GetClanQuery{ClanID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 50, dto.CXPIntoLevel)
	assert.Equal(t, clan.CXPForClanLevelUp(2), dto.CXPForLevelUp)
	assert.Equal(t, clan.Perks{XP: 10, Coins: 5}, dto.Perks)
	assert.Equal(t, clan.Perks{XP: 20, Coins: 10}, dto.NextPerks)

	_, err = h.Handle(context.Background(), GetClanQuery{ClanID: "nope"})
	assert.ErrorIs(t, err, shared.ErrClanNotFound)
}
