// Package retry runs operations again after transient failures, with
// exponential backoff and jitter between attempts.
//
// Snapshot writes use it to rerun a load-apply-save cycle after a version
// conflict; the binaries use it while Postgres and Redis come up.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type markedError struct {
	err   error
	retry bool
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt under the default predicate.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retry: true}
}

// Permanent marks err as final. It stops the loop whatever the predicate says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retry: false}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var m *markedError
	return errors.As(err, &m) && m.retry
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var m *markedError
	return errors.As(err, &m) && !m.retry
}

// unmark strips a marker so callers see the error they produced.
func unmark(err error) error {
	var m *markedError
	if errors.As(err, &m) {
		return m.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Operation is a single attempt. attempt is 0 on the first call.
type Operation func(ctx context.Context, attempt int) error

// Policy describes how many times to try and how long to wait in between.
// The zero value is usable: three attempts, 100ms doubling, Retryable only.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64

	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64

	// ShouldRetry decides whether an unmarked error gets another attempt.
	// Nil retries only errors marked with Retryable.
	ShouldRetry func(error) bool

	// OnRetry runs before every wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return p
}

// Do runs op until it succeeds, returns a final error, or the attempts run
// out. The returned error never carries a Retryable/Permanent marker.
func (p Policy) Do(ctx context.Context, op Operation) error {
	p = p.normalized()

	var last error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err

		if !p.retries(err) || attempt == p.Attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, unmark(err), delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}
	return unmark(last)
}

func (p Policy) retries(err error) bool {
	switch {
	case IsPermanent(err):
		return false
	case IsRetryable(err):
		return true
	case p.ShouldRetry != nil:
		return p.ShouldRetry(err)
	default:
		return false
	}
}

// Delay returns the wait after the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()

	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do runs op under the zero-value policy.
func Do(ctx context.Context, op Operation) error {
	return Policy{}.Do(ctx, op)
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotSave reruns a load-apply-save cycle after a version conflict.
// The competing writer holds the row for one transaction, so waits are short.
func SnapshotSave(attempts int, conflict func(error) bool) Policy {
	return Policy{
		Attempts:    attempts,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.3,
		ShouldRetry: conflict,
	}
}

// Database is used while connecting to Postgres at startup.
func Database() Policy {
	return Policy{
		Attempts:    5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		Factor:      2,
		Jitter:      0.1,
		ShouldRetry: notCancelled,
	}
}

// Redis is used while connecting to Redis. Redis is optional outside
// production, so it gives up quickly.
func Redis() Policy {
	return Policy{
		Attempts:    2,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		Factor:      2,
		Jitter:      0.1,
		ShouldRetry: notCancelled,
	}
}

func notCancelled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
