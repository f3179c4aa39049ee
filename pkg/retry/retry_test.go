package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errConflict = errors.New("version conflict")

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	var seen []int
	err := fast(5).Do(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return Retryable(errConflict)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestPolicy_ReturnsUnmarkedErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := fast(2).Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Retryable(errConflict)
	})

	assert.Equal(t, errConflict, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_PermanentBeatsPredicate(t *testing.T) {
	p := fast(5)
	p.ShouldRetry = func(error) bool { return true }

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errConflict)
	})

	assert.Equal(t, errConflict, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_UnmarkedErrorsStopByDefault(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errConflict
	})

	assert.Equal(t, errConflict, err)
	assert.Equal(t, 1, calls)
}

func TestSnapshotSave_UsesPredicate(t *testing.T) {
	p := SnapshotSave(3, func(err error) bool { return errors.Is(err, errConflict) })
	p.BaseDelay = time.Millisecond

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errConflict
	})
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 3, calls)

	calls = 0
	other := errors.New("not found")
	err = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return other
	})
	assert.Equal(t, other, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Database().Do(ctx, func(ctx context.Context, attempt int) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_OnRetryCountsFromOne(t *testing.T) {
	p := fast(3)
	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.Equal(t, errConflict, err)
	}

	_ = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return Retryable(errConflict)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Factor: 2}

	assert.Equal(t, 10*time.Millisecond, p.Delay(0))
	assert.Equal(t, 20*time.Millisecond, p.Delay(1))
	assert.Equal(t, 35*time.Millisecond, p.Delay(2))
	assert.Equal(t, 35*time.Millisecond, p.Delay(10))
}
