// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
	"github.com/studyquest/studyquest-hub/pkg/retry"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// Every write follows the same cycle: lock the user, load the snapshot,
// apply a pure domain function, seal, save with a version check, refresh the
// cache, publish. The pieces below are shared by all handlers.
// ══════════════════════════════════════════════════════════════════════════════

// SessionCommitter persists the outcome of one study session atomically:
// the user snapshot, the member's clan (optional) and the audit record.
type SessionCommitter interface {
	CommitSession(ctx context.Context, user *progression.Snapshot, c *clan.Snapshot, rec *progression.SessionRecord) error
}

// Deps groups the ports used by the command handlers.
// Cache, Locker and Publisher are optional.
type Deps struct {
	Users     progression.Repository
	Clans     clan.Repository
	Sessions  SessionCommitter
	Cache     progression.SnapshotCache
	Locker    progression.Locker
	Publisher shared.EventPublisher
	Features  *config.FeatureFlags
	Clock     timeutil.Clock
	Logger    *logger.Logger
}

// Settings tunes the write cycle.
type Settings struct {
	IntegritySalt string
	DailyHoursCap float64
	LockTTL       time.Duration
	SaveRetries   int
	CacheTTL      time.Duration

	// DefaultTimezone is assigned to users who register without one.
	DefaultTimezone string
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		DailyHoursCap: 10,
		LockTTL:       10 * time.Second,
		SaveRetries:   3,
		CacheTTL:      10 * time.Minute,

		DefaultTimezone: timeutil.DefaultTimezone,
	}
}

// SettingsFromConfig extracts the command settings from the app config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		IntegritySalt: cfg.Progression.IntegritySalt,
		DailyHoursCap: cfg.Progression.DailyHoursCap,
		LockTTL:       cfg.Progression.LockTTL,
		SaveRetries:   cfg.Progression.SaveRetries,
		CacheTTL:      cfg.Redis.SnapshotTTL,

		DefaultTimezone: cfg.App.DefaultTimezone,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// writer: the shared read-modify-write cycle
// ─────────────────────────────────────────────────────────────────────────────

type writer struct {
	deps     Deps
	settings Settings
	log      *logger.Logger

	// repair lets a command load snapshots whose hash does not verify even
	// when such writes are otherwise refused.
	repair bool
}

func newWriter(deps Deps, settings Settings, name string) writer {
	defaults := DefaultSettings()
	if settings.LockTTL <= 0 {
		settings.LockTTL = defaults.LockTTL
	}
	if settings.SaveRetries <= 0 {
		settings.SaveRetries = defaults.SaveRetries
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = defaults.CacheTTL
	}
	if settings.DefaultTimezone == "" {
		settings.DefaultTimezone = defaults.DefaultTimezone
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	return writer{
		deps:     deps,
		settings: settings,
		log:      log.With(logger.String("command", name)),
	}
}

func (w writer) now() time.Time {
	return w.deps.Clock.Now().UTC()
}

func (w writer) enabled(feature string, userID shared.UserID) bool {
	return w.deps.Features.IsEnabledFor(feature, userID.String())
}

// withUserLock runs fn while holding the per-user lock.
func (w writer) withUserLock(ctx context.Context, id shared.UserID, fn func(ctx context.Context) error) error {
	if w.deps.Locker == nil {
		return fn(ctx)
	}

	release, err := w.deps.Locker.Acquire(ctx, "user:"+id.String(), w.settings.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn("failed to release user lock", logger.UserID(id.String()), logger.Err(err))
		}
	}()

	return fn(ctx)
}

// withRetry reruns a load-apply-save cycle after version conflicts.
// attempt is 0 on the first run; later attempts must bypass the cache.
func (w writer) withRetry(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	policy := retry.SnapshotSave(w.settings.SaveRetries, func(err error) bool {
		return errors.Is(err, shared.ErrOptimisticLock)
	})
	return policy.Do(ctx, fn)
}

// loadUser reads a snapshot through the cache unless fresh is set, and
// checks its integrity hash.
func (w writer) loadUser(ctx context.Context, id shared.UserID, fresh bool) (*progression.Snapshot, error) {
	var snap *progression.Snapshot
	if !fresh && w.deps.Cache != nil {
		if cached, err := w.deps.Cache.Get(ctx, id); err == nil {
			snap = cached
		}
	}
	if snap == nil {
		loaded, err := w.deps.Users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		snap = loaded
	}

	if !progression.Verify(snap, w.settings.IntegritySalt) {
		if !w.repair && w.enabled(config.FeatureIntegrityReject, id) {
			return nil, shared.ErrIntegrityMismatch
		}
		w.log.Warn("snapshot fails integrity verification",
			logger.UserID(id.String()),
			logger.Version(snap.Version),
		)
	}
	return snap, nil
}

// saveUser seals and stores a snapshot with a version check. It returns the
// stored copy carrying the new hash and version.
func (w writer) saveUser(ctx context.Context, snap *progression.Snapshot) (*progression.Snapshot, error) {
	sealed := progression.Seal(snap, w.settings.IntegritySalt)
	if err := w.deps.Users.Save(ctx, sealed); err != nil {
		w.evictOnConflict(ctx, snap.ID, err)
		return nil, err
	}
	return sealed, nil
}

func (w writer) evictOnConflict(ctx context.Context, id shared.UserID, err error) {
	if w.deps.Cache != nil && errors.Is(err, shared.ErrOptimisticLock) {
		_ = w.deps.Cache.Delete(ctx, id)
	}
}

// mutateUser runs the full cycle for commands that only touch the user
// snapshot. apply may be called more than once and must not keep state
// between calls other than its latest outputs.
func (w writer) mutateUser(ctx context.Context, id shared.UserID, apply func(ctx context.Context, user *progression.Snapshot) (*progression.Snapshot, error)) (*progression.Snapshot, error) {
	var saved *progression.Snapshot
	err := w.withUserLock(ctx, id, func(ctx context.Context) error {
		return w.withRetry(ctx, func(ctx context.Context, attempt int) error {
			user, err := w.loadUser(ctx, id, attempt > 0)
			if err != nil {
				return err
			}
			next, err := apply(ctx, user)
			if err != nil {
				return err
			}
			saved, err = w.saveUser(ctx, next)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	w.cacheUser(ctx, saved)
	return saved, nil
}

// cacheUser refreshes the cached snapshot. Failures only cost a cache miss.
func (w writer) cacheUser(ctx context.Context, snap *progression.Snapshot) {
	if w.deps.Cache == nil {
		return
	}
	if err := w.deps.Cache.Set(ctx, snap, w.settings.CacheTTL); err != nil {
		w.log.Warn("failed to cache snapshot", logger.UserID(snap.ID.String()), logger.Err(err))
	}
}

// publish sends events in order. Delivery failures never fail the command.
func (w writer) publish(events []shared.Event) {
	if w.deps.Publisher == nil {
		return
	}
	for _, e := range events {
		if err := w.deps.Publisher.Publish(e); err != nil {
			w.log.Error("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.String("aggregate_id", e.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

func userEvents(id shared.UserID, events []progression.Event, at time.Time) []shared.Event {
	out := make([]shared.Event, 0, len(events))
	for _, e := range events {
		out = append(out, e.ToDomainEvent(id, at))
	}
	return out
}

// invalid marks a rejected command so callers can classify it as bad input.
func invalid(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, shared.ErrValidation, err)
}
