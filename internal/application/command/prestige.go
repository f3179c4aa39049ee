package command

import (
	"context"
	"fmt"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESTIGE COMMAND
// Trades a capped level for the next prestige tier: level and XP reset,
// the XP multiplier and the level cap grow.
// ══════════════════════════════════════════════════════════════════════════════

// PrestigeCommand requests a prestige reset.
type PrestigeCommand struct {
	UserID string
}

// Validate validates the command.
func (c PrestigeCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// PrestigeResult contains the snapshot after the reset.
type PrestigeResult struct {
	Snapshot *progression.Snapshot

	// Config is the configuration of the newly reached tier.
	Config progression.PrestigeConfig
}

// PrestigeHandler handles PrestigeCommand.
type PrestigeHandler struct {
	writer
}

// NewPrestigeHandler creates a new PrestigeHandler.
func NewPrestigeHandler(deps Deps, settings Settings) *PrestigeHandler {
	return &PrestigeHandler{writer: newWriter(deps, settings, "prestige")}
}

// Handle executes the prestige command.
func (h *PrestigeHandler) Handle(ctx context.Context, cmd PrestigeCommand) (*PrestigeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, invalid("prestige", err)
	}
	id := shared.UserID(cmd.UserID)

	saved, err := h.mutateUser(ctx, id, func(_ context.Context, user *progression.Snapshot) (*progression.Snapshot, error) {
		return progression.Prestige(user)
	})
	if err != nil {
		return nil, fmt.Errorf("prestige: %w", err)
	}

	h.publish([]shared.Event{progression.PrestigedEvent(saved, h.now())})
	h.log.Info("user prestiged",
		logger.UserID(cmd.UserID),
		logger.Int("prestige", saved.Prestige),
	)

	return &PrestigeResult{
		Snapshot: saved,
		Config:   progression.GetPrestigeConfig(saved.Prestige),
	}, nil
}
