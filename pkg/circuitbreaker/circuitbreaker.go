// Package circuitbreaker stops calling a dependency after repeated failures
// and probes it again after a cooldown.
//
// The snapshot cache runs behind one so that a Redis outage degrades to
// direct Postgres reads instead of a timeout on every request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast with ErrCircuitOpen
	StateHalfOpen              // a limited number of probes pass through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling the dependency.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrProbeInFlight is returned in half-open state once every probe
	// slot is taken.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// IsRejected reports whether err came from the breaker itself rather than
// from the protected call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProbeInFlight)
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings configures a Breaker. Zero fields take the defaults noted.
type Settings struct {
	Name string

	// TripAfter consecutive failures open the breaker. Default 5.
	TripAfter int

	// CloseAfter consecutive successful probes close it again. Default 1.
	CloseAfter int

	// Cooldown is the time spent open before probing. Default 30s.
	Cooldown time.Duration

	// Probes is how many calls may run concurrently while half-open. Default 1.
	Probes int

	// IsFailure filters errors; nil counts every error.
	IsFailure func(error) bool

	// OnStateChange runs under the breaker's lock and must not call back into it.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.TripAfter <= 0 {
		s.TripAfter = 5
	}
	if s.CloseAfter <= 0 {
		s.CloseAfter = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Counts are running totals since the breaker was created or Reset.
type Counts struct {
	Calls     int
	Failures  int
	Rejected  int
	Streak    int // consecutive outcomes of the same kind as the last one
	LastError error
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// Breaker guards calls to one dependency. It is safe for concurrent use.
type Breaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	counts     Counts
	failing    bool // whether Streak counts failures
	openedAt   time.Time
	probesLeft int
}

// New creates a closed breaker.
func New(settings Settings) *Breaker {
	return &Breaker{settings: settings.withDefaults()}
}

// Do runs fn unless the breaker is open. Errors from fn are returned as is.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(err, probe)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.transition(StateHalfOpen)
	}

	switch b.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if b.probesLeft > 0 {
			b.probesLeft--
			return true, nil
		}
		b.counts.Rejected++
		return false, ErrProbeInFlight
	default:
		b.counts.Rejected++
		return false, ErrCircuitOpen
	}
}

func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts.Calls++
	failed := err != nil && (b.settings.IsFailure == nil || b.settings.IsFailure(err))

	if failed == b.failing {
		b.counts.Streak++
	} else {
		b.failing = failed
		b.counts.Streak = 1
	}

	if failed {
		b.counts.Failures++
		b.counts.LastError = err
		if b.state == StateHalfOpen || b.counts.Streak >= b.settings.TripAfter {
			b.transition(StateOpen)
		}
		return
	}

	if probe && b.state == StateHalfOpen {
		b.probesLeft++
		if b.counts.Streak >= b.settings.CloseAfter {
			b.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.counts.Streak = 0

	switch to {
	case StateOpen:
		b.openedAt = b.settings.Now()
	case StateHalfOpen:
		b.probesLeft = b.settings.Probes
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a copy of the running totals.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.settings.Name }

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.counts = Counts{}
	b.failing = false
}

// ForCache returns the snapshot cache breaker. The cache is optional, so it
// trips after three failures and probes again after 15s.
func ForCache(isFailure func(error) bool, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "snapshot-cache",
		TripAfter:     3,
		CloseAfter:    1,
		Cooldown:      15 * time.Second,
		Probes:        1,
		IsFailure:     isFailure,
		OnStateChange: onStateChange,
	})
}
