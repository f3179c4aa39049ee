package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG STUDY SESSION COMMAND
// The hot path: a user reports hours studied today. XP, coins, streak,
// weekly goals, achievements and (for clan members) clan CXP all move here.
// ══════════════════════════════════════════════════════════════════════════════

// capEpsilon absorbs float noise when summing fractional hours.
const capEpsilon = 1e-9

// LogStudySessionCommand contains the data of one study session.
type LogStudySessionCommand struct {
	// UserID is the id of the user who studied.
	UserID string

	// Hours is the session length. Must be positive.
	Hours float64

	// RequestID for tracing.
	RequestID string
}

// Validate validates the command.
func (c LogStudySessionCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewHours(c.Hours); err != nil {
		return err
	}
	return nil
}

// LogStudySessionResult contains the outcome of a logged session.
type LogStudySessionResult struct {
	// Snapshot is the stored user snapshot after the session.
	Snapshot *progression.Snapshot

	// LocalDate is the date the session was booked on, in the user's zone.
	LocalDate string

	// SessionXP and SessionCoins are the base reward before goal bonuses.
	SessionXP    int
	SessionCoins int

	// Events are the notifications in engine order.
	Events []progression.Event

	// Clan is the member's clan after the session, nil if not applied.
	Clan *clan.Snapshot

	// ClanLevelUps lists the clan levels crossed by this session.
	ClanLevelUps []clan.LevelUp
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// LogStudySessionHandler handles LogStudySessionCommand.
type LogStudySessionHandler struct {
	writer
	engine *progression.Engine
}

// NewLogStudySessionHandler creates a new LogStudySessionHandler.
func NewLogStudySessionHandler(deps Deps, settings Settings, engine *progression.Engine) *LogStudySessionHandler {
	return &LogStudySessionHandler{
		writer: newWriter(deps, settings, "log_study_session"),
		engine: engine,
	}
}

// Handle executes the log study session command.
func (h *LogStudySessionHandler) Handle(ctx context.Context, cmd LogStudySessionCommand) (*LogStudySessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, invalid("log_study_session", err)
	}
	id := shared.UserID(cmd.UserID)
	log := h.log.With(logger.UserID(cmd.UserID), logger.String("request_id", cmd.RequestID))

	var result *LogStudySessionResult
	err := h.withUserLock(ctx, id, func(ctx context.Context) error {
		return h.withRetry(ctx, func(ctx context.Context, attempt int) error {
			if attempt > 0 {
				log.Debug("retrying after version conflict", logger.Int("attempt", attempt))
			}
			res, err := h.apply(ctx, id, cmd.Hours, attempt > 0)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("log_study_session: %w", err)
	}

	h.cacheUser(ctx, result.Snapshot)

	at := h.now()
	events := userEvents(id, result.Events, at)
	if result.Clan != nil {
		for _, up := range result.ClanLevelUps {
			events = append(events, up.ToDomainEvent(result.Clan.ID, at))
		}
	}
	events = append(events, progression.SessionLoggedEvent(result.Snapshot, result.LocalDate, cmd.Hours, result.SessionXP, at))
	h.publish(events)

	log.Info("study session logged",
		logger.Hours(cmd.Hours),
		logger.LocalDate(result.LocalDate),
		logger.XPAmount(result.SessionXP),
		logger.UserLevel(result.Snapshot.Level),
		logger.EventCount(len(result.Events)),
	)
	return result, nil
}

func (h *LogStudySessionHandler) apply(ctx context.Context, id shared.UserID, hours float64, fresh bool) (*LogStudySessionResult, error) {
	user, err := h.loadUser(ctx, id, fresh)
	if err != nil {
		return nil, err
	}

	today, err := timeutil.Today(h.deps.Clock, user.Timezone)
	if err != nil {
		return nil, err
	}

	if limit := h.settings.DailyHoursCap; limit > 0 && h.enabled(config.FeatureDailyHoursCap, id) {
		if user.HoursOn(today)+hours > limit+capEpsilon {
			return nil, shared.ErrDailyCapExceeded
		}
	}

	xp, coins := progression.SessionReward(hours, user.Prestige)
	next, events, err := h.engine.LogStudySession(user, hours, today)
	if err != nil {
		return nil, err
	}

	result := &LogStudySessionResult{
		LocalDate:    today,
		SessionXP:    xp,
		SessionCoins: coins,
		Events:       events,
	}

	if !next.ClanID.IsEmpty() && h.enabled(config.FeatureClanSessionCXP, id) {
		c, err := h.deps.Clans.GetByID(ctx, next.ClanID)
		if err != nil {
			return nil, err
		}
		result.Clan, result.ClanLevelUps, err = clan.ApplyMemberSession(c, hours)
		if err != nil {
			return nil, err
		}
	}

	sealed := progression.Seal(next, h.settings.IntegritySalt)
	rec := &progression.SessionRecord{
		ID:       uuid.NewString(),
		UserID:   id,
		Date:     today,
		Hours:    hours,
		XPGained: xp,
		LoggedAt: h.now(),
	}
	if err := h.deps.Sessions.CommitSession(ctx, sealed, result.Clan, rec); err != nil {
		h.evictOnConflict(ctx, id, err)
		return nil, err
	}

	result.Snapshot = sealed
	return result, nil
}
