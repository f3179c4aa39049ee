package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/persistence/memory"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

const salt = "test-salt"

// Monday noon UTC.
var testNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

// Goals nobody completes in a test run.
var hardGoals = progression.GoalGeneratorFunc(func() []progression.Goal {
	return []progression.Goal{
		{ID: "weekly_hours_1000", Type: progression.GoalWeeklyHours, Target: 1000, XP: progression.GoalBonusXP},
		{ID: "session_hours_500", Type: progression.GoalSessionHours, Target: 500, XP: progression.GoalBonusXP},
		{ID: "streak_reach_365", Type: progression.GoalStreakReach, Target: 365, XP: progression.GoalBonusXP},
	}
})

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	store    *memory.Store
	cache    *memory.SnapshotCache
	locker   *memory.Locker
	pub      *recordingPublisher
	deps     Deps
	settings Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:  store,
		cache:  memory.NewSnapshotCache(),
		locker: memory.NewLocker(),
		pub:    &recordingPublisher{},
	}
	f.deps = Deps{
		Users:     store.Progressions(),
		Clans:     store.Clans(),
		Sessions:  store,
		Cache:     f.cache,
		Locker:    f.locker,
		Publisher: f.pub,
		Clock:     timeutil.FixedClock{T: testNow},
	}
	f.settings = Settings{IntegritySalt: salt, DailyHoursCap: 10, SaveRetries: 3}
	return f
}

func (f *fixture) withFlags(ff *config.FeatureFlags) *fixture {
	f.deps.Features = ff
	return f
}

func (f *fixture) register(t *testing.T, id string) *progression.Snapshot {
	t.Helper()
	res, err := NewRegisterUserHandler(f.deps, f.settings, hardGoals).Handle(context.Background(), RegisterUserCommand{
		UserID:   id,
		Name:     "Ada",
		Timezone: "UTC",
	})
	require.NoError(t, err)
	return res.Snapshot
}

func (f *fixture) logSession(hours float64, id string) (*LogStudySessionResult, error) {
	engine := progression.NewEngine(hardGoals, f.deps.Clock)
	return NewLogStudySessionHandler(f.deps, f.settings, engine).Handle(context.Background(), LogStudySessionCommand{
		UserID: id,
		Hours:  hours,
	})
}

func (f *fixture) seedClan(t *testing.T, id string, level int) {
	t.Helper()
	require.NoError(t, f.store.Clans().Create(context.Background(), &clan.Snapshot{
		ID:        shared.ClanID(id),
		Name:      "Night Owls",
		Level:     level,
		CXP:       clan.TotalCXPToReachClanLevel(level),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}))
}

func (f *fixture) joinClan(t *testing.T, userID, clanID string) {
	t.Helper()
	_, err := NewSetClanHandler(f.deps, f.settings).Handle(context.Background(), SetClanCommand{UserID: userID, ClanID: clanID})
	require.NoError(t, err)
}

func intPtr(v int) *int { return &v }

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER
// ══════════════════════════════════════════════════════════════════════════════

func TestRegisterUser_CreatesSealedSnapshot(t *testing.T) {
	f := newFixture(t)

	snap := f.register(t, "u1")

	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, 1, snap.Level)
	assert.Equal(t, "2024-03-04", snap.WeeklyGoals.WeekIdentifier)
	assert.Len(t, snap.WeeklyGoals.Goals, 3)
	assert.True(t, progression.Verify(snap, salt))
	assert.Equal(t, []shared.EventType{shared.EventUserRegistered}, f.pub.types())

	stored, err := f.store.Progressions().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, snap.IntegrityHash, stored.IntegrityHash)

	_, err = NewRegisterUserHandler(f.deps, f.settings, hardGoals).Handle(context.Background(), RegisterUserCommand{UserID: "u1", Name: "Again"})
	assert.ErrorIs(t, err, shared.ErrUserAlreadyExists)
}

func TestRegisterUser_GeneratesIDAndDefaultsTimezone(t *testing.T) {
	f := newFixture(t)

	res, err := NewRegisterUserHandler(f.deps, f.settings, hardGoals).Handle(context.Background(), RegisterUserCommand{Name: "Grace"})
	require.NoError(t, err)
	assert.True(t, res.Snapshot.ID.IsValid())
	assert.Equal(t, "UTC", res.Snapshot.Timezone)
}

func TestRegisterUser_Validation(t *testing.T) {
	h := NewRegisterUserHandler(newFixture(t).deps, Settings{}, hardGoals)

	_, err := h.Handle(context.Background(), RegisterUserCommand{Name: "  "})
	assert.Error(t, err)

	_, err = h.Handle(context.Background(), RegisterUserCommand{Name: "Ada", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, shared.ErrInvalidTimezone)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOG STUDY SESSION
// ══════════════════════════════════════════════════════════════════════════════

func TestLogStudySession_AppliesRewardsAndPublishesInOrder(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")
	f.pub.reset()

	res, err := f.logSession(2, "u1")
	require.NoError(t, err)

	assert.Equal(t, "2024-03-04", res.LocalDate)
	assert.Equal(t, 200, res.SessionXP)
	assert.Equal(t, 200, res.SessionCoins)
	assert.Equal(t, 2, res.Snapshot.Level)
	assert.Equal(t, 200, res.Snapshot.XP)
	assert.Equal(t, 1, res.Snapshot.Streak)
	assert.Equal(t, int64(2), res.Snapshot.Version)
	assert.True(t, progression.Verify(res.Snapshot, salt))
	assert.Nil(t, res.Clan)

	require.NotEmpty(t, res.Events)
	assert.Equal(t, progression.EventLevelUp, res.Events[0].Kind)

	types := f.pub.types()
	require.Len(t, types, len(res.Events)+1)
	assert.Equal(t, shared.EventLevelUp, types[0])
	assert.Equal(t, shared.EventSessionLogged, types[len(types)-1])

	sessions := f.store.Sessions("u1")
	require.Len(t, sessions, 1)
	assert.Equal(t, 2.0, sessions[0].Hours)
	assert.Equal(t, 200, sessions[0].XPGained)
	assert.Equal(t, "2024-03-04", sessions[0].Date)

	cached, err := f.cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached.Version)
}

func TestLogStudySession_DailyCap(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")

	_, err := f.logSession(8, "u1")
	require.NoError(t, err)

	_, err = f.logSession(2.5, "u1")
	assert.ErrorIs(t, err, shared.ErrDailyCapExceeded)

	_, err = f.logSession(2, "u1")
	assert.NoError(t, err, "exactly reaching the cap is allowed")

	assert.Len(t, f.store.Sessions("u1"), 2)
}

func TestLogStudySession_DailyCapFeatureOff(t *testing.T) {
	ff := config.LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(config.FeatureDailyHoursCap))
	f := newFixture(t).withFlags(ff)
	f.register(t, "u1")

	_, err := f.logSession(9, "u1")
	require.NoError(t, err)
	_, err = f.logSession(9, "u1")
	assert.NoError(t, err)
}

func TestLogStudySession_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.logSession(0, "u1")
	assert.ErrorIs(t, err, shared.ErrNonPositiveHours)

	_, err = f.logSession(1, "")
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = f.logSession(1, "ghost")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func TestLogStudySession_RejectsWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")

	release, err := f.locker.Acquire(context.Background(), "user:u1", time.Minute)
	require.NoError(t, err)

	_, err = f.logSession(1, "u1")
	assert.ErrorIs(t, err, shared.ErrSessionInProgress)

	require.NoError(t, release(context.Background()))
	_, err = f.logSession(1, "u1")
	assert.NoError(t, err)
}

func TestLogStudySession_RetriesOnStaleCache(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")
	_, err := f.logSession(1, "u1")
	require.NoError(t, err)

	// Another instance writes behind this one's cache.
	repo := f.store.Progressions()
	other, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	other.Coins += 7
	other = progression.Seal(other, salt)
	require.NoError(t, repo.Save(context.Background(), other))
	require.Equal(t, int64(3), other.Version)

	res, err := f.logSession(1, "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.Snapshot.Version)
	assert.Equal(t, 100+7+100, res.Snapshot.Coins)
	assert.InDelta(t, 2.0, res.Snapshot.HoursOn("2024-03-04"), 1e-9)
}

func TestLogStudySession_FeedsClan(t *testing.T) {
	f := newFixture(t)
	f.settings.DailyHoursCap = 0
	f.register(t, "u1")

	_, err := NewCreateClanHandler(f.deps, f.settings).Handle(context.Background(), CreateClanCommand{ClanID: "c1", Name: "Night Owls"})
	require.NoError(t, err)
	f.joinClan(t, "u1", "c1")
	f.pub.reset()

	res, err := f.logSession(15, "u1")
	require.NoError(t, err)

	require.NotNil(t, res.Clan)
	assert.Equal(t, 150, res.Clan.CXP)
	assert.Equal(t, 2, res.Clan.Level)
	require.Len(t, res.ClanLevelUps, 1)
	assert.Equal(t, clan.Perks{XP: 10, Coins: 5}, res.ClanLevelUps[0].Perks)
	assert.Contains(t, f.pub.types(), shared.EventClanLevelUp)

	stored, err := f.store.Clans().GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 150, stored.CXP)
	assert.Equal(t, int64(2), stored.Version)
}

func TestLogStudySession_ClanFeatureOff(t *testing.T) {
	ff := config.LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(config.FeatureClanSessionCXP))
	f := newFixture(t).withFlags(ff)
	f.register(t, "u1")
	f.seedClan(t, "c1", 1)
	f.joinClan(t, "u1", "c1")

	res, err := f.logSession(3, "u1")
	require.NoError(t, err)
	assert.Nil(t, res.Clan)

	stored, err := f.store.Clans().GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CXP)
}

func TestLogStudySession_IntegrityPolicy(t *testing.T) {
	ff := config.LoadFeatureFlags()
	require.NoError(t, ff.EnableFeature(config.FeatureIntegrityReject))
	f := newFixture(t).withFlags(ff)
	f.register(t, "u1")

	// Tamper with the stored snapshot without resealing it.
	repo := f.store.Progressions()
	snap, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	snap.Coins = 1_000_000
	require.NoError(t, repo.Save(context.Background(), snap))
	require.NoError(t, f.cache.Delete(context.Background(), "u1"))

	_, err = f.logSession(1, "u1")
	assert.ErrorIs(t, err, shared.ErrIntegrityMismatch)

	// An override reseals the snapshot.
	res, err := NewAdminOverrideHandler(f.deps, f.settings).Handle(context.Background(), AdminOverrideCommand{
		UserID: "u1",
		Coins:  intPtr(0),
		Actor:  "support",
	})
	require.NoError(t, err)
	assert.Equal(t, 1_000_000, res.Before.Coins)
	assert.True(t, progression.Verify(res.After, salt))

	_, err = f.logSession(1, "u1")
	assert.NoError(t, err)
}

func TestLogStudySession_UntrustedSnapshotLoggedByDefault(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")

	repo := f.store.Progressions()
	snap, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	snap.Coins = 42
	require.NoError(t, repo.Save(context.Background(), snap))
	require.NoError(t, f.cache.Delete(context.Background(), "u1"))

	res, err := f.logSession(1, "u1")
	require.NoError(t, err)
	assert.True(t, progression.Verify(res.Snapshot, salt), "the write reseals")
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESTIGE / OVERRIDE
// ══════════════════════════════════════════════════════════════════════════════

func TestPrestige(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")
	h := NewPrestigeHandler(f.deps, f.settings)

	_, err := h.Handle(context.Background(), PrestigeCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrPrestigeLocked)

	_, err = NewAdminOverrideHandler(f.deps, f.settings).Handle(context.Background(), AdminOverrideCommand{
		UserID: "u1",
		XP:     intPtr(progression.TotalXPToReachLevel(20)),
		Actor:  "support",
	})
	require.NoError(t, err)
	f.pub.reset()

	res, err := h.Handle(context.Background(), PrestigeCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Snapshot.Prestige)
	assert.Equal(t, 1, res.Snapshot.Level)
	assert.Equal(t, 0, res.Snapshot.XP)
	assert.Equal(t, 30, res.Config.Cap)
	assert.Equal(t, 1.5, res.Config.Multiplier)
	assert.Equal(t, []shared.EventType{shared.EventPrestiged}, f.pub.types())

	// Prestige 1 earns 1.5x.
	session, err := f.logSession(1, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150, session.SessionXP)
}

func TestAdminOverride_Validation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")
	h := NewAdminOverrideHandler(f.deps, f.settings)

	_, err := h.Handle(context.Background(), AdminOverrideCommand{UserID: "u1", Actor: "support"})
	assert.Error(t, err)

	_, err = h.Handle(context.Background(), AdminOverrideCommand{UserID: "u1", XP: intPtr(1)})
	assert.Error(t, err)

	_, err = h.Handle(context.Background(), AdminOverrideCommand{UserID: "u1", XP: intPtr(-1), Actor: "support"})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)

	ff := config.LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(config.FeatureAdminOverrides))
	_, err = NewAdminOverrideHandler(f.withFlags(ff).deps, f.settings).Handle(context.Background(), AdminOverrideCommand{UserID: "u1", XP: intPtr(1), Actor: "support"})
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestAdminOverride_RederivesLevel(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")

	res, err := NewAdminOverrideHandler(f.deps, f.settings).Handle(context.Background(), AdminOverrideCommand{
		UserID: "u1",
		XP:     intPtr(225),
		Actor:  "support",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.After.Level)
	assert.Equal(t, int64(2), res.After.Version)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLANS
// ══════════════════════════════════════════════════════════════════════════════

func TestClaimClanPerk(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")
	h := NewClaimClanPerkHandler(f.deps, f.settings)

	_, err := h.Handle(context.Background(), ClaimClanPerkCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrNotClanMember)

	f.seedClan(t, "rookies", 1)
	f.joinClan(t, "u1", "rookies")
	_, err = h.Handle(context.Background(), ClaimClanPerkCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrClanPerkUnearned)

	f.seedClan(t, "veterans", 2)
	f.joinClan(t, "u1", "veterans")
	f.pub.reset()

	res, err := h.Handle(context.Background(), ClaimClanPerkCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, clan.Perks{XP: 10, Coins: 5}, res.Perks)
	assert.Equal(t, 10, res.Snapshot.XP)
	assert.Equal(t, 5, res.Snapshot.Coins)
	assert.Equal(t, "2024-03-04", res.Snapshot.LastPerkClaimDate)
	assert.Equal(t, []shared.EventType{shared.EventClanPerkClaimed}, f.pub.types())

	_, err = h.Handle(context.Background(), ClaimClanPerkCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrPerkAlreadyClaimed)
}

func TestClaimClanPerk_FeatureOff(t *testing.T) {
	ff := config.LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(config.FeatureClanDailyPerk))
	f := newFixture(t).withFlags(ff)
	f.register(t, "u1")

	_, err := NewClaimClanPerkHandler(f.deps, f.settings).Handle(context.Background(), ClaimClanPerkCommand{UserID: "u1"})
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestSetClan(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1")
	h := NewSetClanHandler(f.deps, f.settings)

	_, err := h.Handle(context.Background(), SetClanCommand{UserID: "u1", ClanID: "nowhere"})
	assert.ErrorIs(t, err, shared.ErrClanNotFound)

	f.seedClan(t, "c1", 1)
	snap, err := h.Handle(context.Background(), SetClanCommand{UserID: "u1", ClanID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, shared.ClanID("c1"), snap.ClanID)

	snap, err = h.Handle(context.Background(), SetClanCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, snap.ClanID.IsEmpty())
}

func TestCreateClan_Validation(t *testing.T) {
	f := newFixture(t)
	h := NewCreateClanHandler(f.deps, f.settings)

	_, err := h.Handle(context.Background(), CreateClanCommand{})
	assert.Error(t, err)

	c, err := h.Handle(context.Background(), CreateClanCommand{Name: "Night Owls"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Level)
	assert.Equal(t, int64(1), c.Version)
	assert.False(t, c.ID.IsEmpty())
}
