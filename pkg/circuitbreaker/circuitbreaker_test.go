package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRedisDown = errors.New("dial tcp: connection refused")

func failing(ctx context.Context) error { return errRedisDown }
func passing(ctx context.Context) error { return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	b := New(Settings{
		Name:          "test",
		TripAfter:     2,
		Cooldown:      time.Hour,
		OnStateChange: func(name string, from, to State) { transitions = append(transitions, to) },
	})

	assert.ErrorIs(t, b.Do(context.Background(), failing), errRedisDown)
	assert.NoError(t, b.Do(context.Background(), passing))
	assert.ErrorIs(t, b.Do(context.Background(), failing), errRedisDown)
	assert.Equal(t, StateClosed, b.State(), "a success resets the streak")

	assert.ErrorIs(t, b.Do(context.Background(), failing), errRedisDown)
	assert.Equal(t, StateOpen, b.State())

	err := b.Do(context.Background(), passing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.Equal(t, []State{StateOpen}, transitions)

	counts := b.Counts()
	assert.Equal(t, 4, counts.Calls)
	assert.Equal(t, 3, counts.Failures)
	assert.Equal(t, 1, counts.Rejected)
	assert.Equal(t, errRedisDown, counts.LastError)
}

func TestBreaker_ProbesAfterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)}
	b := New(Settings{TripAfter: 1, Cooldown: time.Minute, Now: clock.Now})

	_ = b.Do(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, b.Do(context.Background(), passing), ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.NoError(t, b.Do(context.Background(), passing))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)}
	b := New(Settings{TripAfter: 1, Cooldown: time.Minute, Now: clock.Now})

	_ = b.Do(context.Background(), failing)
	clock.Advance(time.Minute)

	assert.ErrorIs(t, b.Do(context.Background(), failing), errRedisDown)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(context.Background(), passing), ErrCircuitOpen)
}

func TestBreaker_LimitsConcurrentProbes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)}
	b := New(Settings{TripAfter: 1, Cooldown: time.Minute, Now: clock.Now})

	_ = b.Do(context.Background(), failing)
	clock.Advance(time.Minute)

	err := b.Do(context.Background(), func(ctx context.Context) error {
		assert.ErrorIs(t, b.Do(ctx, passing), ErrProbeInFlight)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	miss := errors.New("cache miss")
	b := ForCache(func(err error) bool { return !errors.Is(err, miss) }, nil)

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, b.Do(context.Background(), func(ctx context.Context) error { return miss }), miss)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "snapshot-cache", b.Name())
}

func TestBreaker_Reset(t *testing.T) {
	b := New(Settings{TripAfter: 1, Cooldown: time.Hour})
	_ = b.Do(context.Background(), failing)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
	assert.NoError(t, b.Do(context.Background(), passing))
}
