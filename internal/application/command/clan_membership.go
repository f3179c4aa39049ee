package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAN COMMANDS
// Founding a clan and moving a user in or out of one.
// ══════════════════════════════════════════════════════════════════════════════

// CreateClanCommand founds a new clan at level 1.
type CreateClanCommand struct {
	// ClanID is optional; a UUID is generated when empty.
	ClanID string
	Name   string
}

// Validate validates the command.
func (c CreateClanCommand) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return errors.New("create_clan: name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("create_clan: name exceeds %d characters", maxNameLength)
	}
	if c.ClanID != "" {
		if _, err := shared.NewClanID(c.ClanID); err != nil {
			return err
		}
	}
	return nil
}

// CreateClanHandler handles CreateClanCommand.
type CreateClanHandler struct {
	writer
}

// NewCreateClanHandler creates a new CreateClanHandler.
func NewCreateClanHandler(deps Deps, settings Settings) *CreateClanHandler {
	return &CreateClanHandler{writer: newWriter(deps, settings, "create_clan")}
}

// Handle executes the create command.
func (h *CreateClanHandler) Handle(ctx context.Context, cmd CreateClanCommand) (*clan.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, invalid("create_clan", err)
	}

	id := shared.ClanID(strings.TrimSpace(cmd.ClanID))
	if id.IsEmpty() {
		id = shared.ClanID(uuid.NewString())
	}

	c, err := clan.NewSnapshot(id, strings.TrimSpace(cmd.Name), h.now())
	if err != nil {
		return nil, fmt.Errorf("create_clan: %w", err)
	}
	if err := h.deps.Clans.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create_clan: %w", err)
	}

	h.log.Info("clan created", logger.ClanID(id.String()))
	return c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Membership
// ─────────────────────────────────────────────────────────────────────────────

// SetClanCommand moves a user into a clan. An empty ClanID leaves the
// current clan.
type SetClanCommand struct {
	UserID string
	ClanID string
}

// Validate validates the command.
func (c SetClanCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if c.ClanID != "" {
		if _, err := shared.NewClanID(c.ClanID); err != nil {
			return err
		}
	}
	return nil
}

// SetClanHandler handles SetClanCommand.
type SetClanHandler struct {
	writer
}

// NewSetClanHandler creates a new SetClanHandler.
func NewSetClanHandler(deps Deps, settings Settings) *SetClanHandler {
	return &SetClanHandler{writer: newWriter(deps, settings, "set_clan")}
}

// Handle executes the membership change. The daily perk marker is kept so a
// user cannot claim twice on one day by hopping between clans.
func (h *SetClanHandler) Handle(ctx context.Context, cmd SetClanCommand) (*progression.Snapshot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, invalid("set_clan", err)
	}
	id := shared.UserID(cmd.UserID)
	target := shared.ClanID(strings.TrimSpace(cmd.ClanID))

	if !target.IsEmpty() {
		if _, err := h.deps.Clans.GetByID(ctx, target); err != nil {
			return nil, fmt.Errorf("set_clan: %w", err)
		}
	}

	saved, err := h.mutateUser(ctx, id, func(_ context.Context, user *progression.Snapshot) (*progression.Snapshot, error) {
		next := user.Clone()
		next.ClanID = target
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("set_clan: %w", err)
	}

	h.log.Info("clan membership changed", logger.UserID(cmd.UserID), logger.ClanID(target.String()))
	return saved, nil
}
