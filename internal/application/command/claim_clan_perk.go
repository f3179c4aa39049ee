package command

import (
	"context"
	"fmt"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM CLAN PERK COMMAND
// A clan member collects the daily XP/coin perk of their clan's level.
// ══════════════════════════════════════════════════════════════════════════════

// ErrFeatureDisabled is returned when a command is switched off by a flag.
var ErrFeatureDisabled = shared.NewDomainError("app", "Feature", shared.ErrForbidden, "feature is disabled")

// ClaimClanPerkCommand requests today's clan perk.
type ClaimClanPerkCommand struct {
	UserID string
}

// Validate validates the command.
func (c ClaimClanPerkCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// ClaimClanPerkResult contains the member snapshot after the claim.
type ClaimClanPerkResult struct {
	Snapshot  *progression.Snapshot
	Perks     clan.Perks
	LocalDate string
	Events    []progression.Event
}

// ClaimClanPerkHandler handles ClaimClanPerkCommand.
type ClaimClanPerkHandler struct {
	writer
}

// NewClaimClanPerkHandler creates a new ClaimClanPerkHandler.
func NewClaimClanPerkHandler(deps Deps, settings Settings) *ClaimClanPerkHandler {
	return &ClaimClanPerkHandler{writer: newWriter(deps, settings, "claim_clan_perk")}
}

// Handle executes the claim command.
func (h *ClaimClanPerkHandler) Handle(ctx context.Context, cmd ClaimClanPerkCommand) (*ClaimClanPerkResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, invalid("claim_clan_perk", err)
	}
	id := shared.UserID(cmd.UserID)
	if !h.enabled(config.FeatureClanDailyPerk, id) {
		return nil, fmt.Errorf("claim_clan_perk: %w", ErrFeatureDisabled)
	}

	var claim *clan.PerkClaim
	var clanID shared.ClanID
	var today string
	saved, err := h.mutateUser(ctx, id, func(ctx context.Context, user *progression.Snapshot) (*progression.Snapshot, error) {
		if user.ClanID.IsEmpty() {
			return nil, shared.ErrNotClanMember
		}
		c, err := h.deps.Clans.GetByID(ctx, user.ClanID)
		if err != nil {
			return nil, err
		}
		if today, err = timeutil.Today(h.deps.Clock, user.Timezone); err != nil {
			return nil, err
		}
		if claim, err = clan.ClaimDailyPerk(user, c, today); err != nil {
			return nil, err
		}
		clanID = c.ID
		return claim.Member, nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim_clan_perk: %w", err)
	}

	at := h.now()
	events := userEvents(id, claim.Events, at)
	events = append(events, clan.PerkClaimedEvent(id, clanID, claim.Perks, at))
	h.publish(events)

	h.log.Info("clan perk claimed",
		logger.UserID(cmd.UserID),
		logger.ClanID(clanID.String()),
		logger.XPAmount(claim.Perks.XP),
	)

	return &ClaimClanPerkResult{
		Snapshot:  saved,
		Perks:     claim.Perks,
		LocalDate: today,
		Events:    claim.Events,
	}, nil
}
