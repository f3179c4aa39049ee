package eventhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/messaging"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/memory"
)

var at = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func cachedUser(t *testing.T, cache *memory.SnapshotCache, id string) *progression.Snapshot {
	t.Helper()
	snap, err := progression.NewSnapshot(progression.NewSnapshotParams{
		ID:        shared.UserID(id),
		Name:      "Ada",
		Timezone:  "UTC",
		Today:     "2024-03-04",
		CreatedAt: at,
		Goals:     progression.NewRandomGoalGenerator(1),
	})
	require.NoError(t, err)
	require.NoError(t, cache.Set(context.Background(), snap, time.Minute))
	return snap
}

func TestOnIntegrityViolation_EvictsCachedSnapshot(t *testing.T) {
	cache := memory.NewSnapshotCache()
	flagged := cachedUser(t, cache, "u1")
	cachedUser(t, cache, "u2")

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	h := NewOnIntegrityViolationHandler(cache, nil)
	require.NoError(t, h.Register(bus))

	require.NoError(t, bus.Publish(progression.IntegrityViolationEvent(flagged, at)))

	_, err := cache.Get(context.Background(), "u1")
	assert.Error(t, err)

	_, err = cache.Get(context.Background(), "u2")
	assert.NoError(t, err)
}

func TestOnIntegrityViolation_IgnoresOtherEvents(t *testing.T) {
	cache := memory.NewSnapshotCache()
	cachedUser(t, cache, "u1")

	h := NewOnIntegrityViolationHandler(cache, nil)
	require.NoError(t, h.Handle(shared.NewGenericEvent(shared.EventLevelUp, "u1", at, nil)))

	_, err := cache.Get(context.Background(), "u1")
	assert.NoError(t, err)
}

func TestOnIntegrityViolation_NilCache(t *testing.T) {
	h := NewOnIntegrityViolationHandler(nil, nil)
	assert.NoError(t, h.Handle(shared.NewGenericEvent(shared.EventIntegrityViolation, "u1", at, nil)))
}
