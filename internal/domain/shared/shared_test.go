package shared

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_MatchesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("decode: %w", ErrNegativeValue)
	err := WrapError("progression", "Validate", ErrInvalidEntity, "bad counters", cause)

	assert.ErrorIs(t, err, ErrInvalidEntity)
	assert.ErrorIs(t, err, ErrNegativeValue)
	assert.True(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "progression.Validate: bad counters: decode: value cannot be negative", err.Error())
}

func TestSentinelsDoNotCrossMatch(t *testing.T) {
	assert.ErrorIs(t, ErrClanNotFound, ErrNotFound)
	assert.NotErrorIs(t, ErrClanNotFound, ErrUserNotFound)
	assert.NotErrorIs(t, ErrNotClanMember, ErrClanPerkUnearned)

	wrapped := fmt.Errorf("load: %w", ErrUserNotFound)
	assert.ErrorIs(t, wrapped, ErrUserNotFound)
	assert.True(t, IsNotFound(wrapped))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err        error
		validation bool
		conflict   bool
	}{
		{ErrNonPositiveHours, true, false},
		{ErrInvalidClanID, true, false},
		{ErrPrestigeLocked, false, true},
		{ErrDailyCapExceeded, false, true},
		{ErrSessionInProgress, false, true},
		{ErrPerkAlreadyClaimed, false, true},
		{ErrSnapshotConflict, false, false},
		{ErrUserAlreadyExists, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
		})
	}
}

func TestEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	data, err := Seal("api-1", 3, NewGenericEvent(EventClanLevelUp, "owls", at, map[string]interface{}{"new_level": 2}))
	require.NoError(t, err)

	env, err := OpenEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "api-1", env.Origin)
	assert.Equal(t, uint64(3), env.Sequence)

	ev := env.Event()
	assert.Equal(t, EventClanLevelUp, ev.EventType())
	assert.Equal(t, "owls", ev.AggregateID())
	assert.True(t, at.Equal(ev.OccurredAt()))
	assert.EqualValues(t, 2, ev.Payload()["new_level"])
}

func TestNewGenericEvent_NilPayload(t *testing.T) {
	ev := NewGenericEvent(EventUserRegistered, "u1", time.Time{}, nil)
	assert.NotNil(t, ev.Payload())
}
