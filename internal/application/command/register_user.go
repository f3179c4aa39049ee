package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/logger"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER USER COMMAND
// Creates the signup snapshot of a new user.
// ══════════════════════════════════════════════════════════════════════════════

const maxNameLength = 64

// RegisterUserCommand contains the data of a new user.
type RegisterUserCommand struct {
	// UserID is optional; a UUID is generated when empty.
	UserID string

	// Name is the display name.
	Name string

	// Timezone is an IANA zone name; empty falls back to the default.
	Timezone string
}

// Validate validates the command.
func (c RegisterUserCommand) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return errors.New("register_user: name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("register_user: name exceeds %d characters", maxNameLength)
	}
	if c.UserID != "" {
		if _, err := shared.NewUserID(c.UserID); err != nil {
			return err
		}
	}
	if c.Timezone != "" {
		if _, err := timeutil.LoadLocation(c.Timezone); err != nil {
			return shared.ErrInvalidTimezone
		}
	}
	return nil
}

// RegisterUserResult contains the created snapshot.
type RegisterUserResult struct {
	Snapshot *progression.Snapshot
}

// RegisterUserHandler handles RegisterUserCommand.
type RegisterUserHandler struct {
	writer
	goals progression.GoalGenerator
}

// NewRegisterUserHandler creates a new RegisterUserHandler.
func NewRegisterUserHandler(deps Deps, settings Settings, goals progression.GoalGenerator) *RegisterUserHandler {
	return &RegisterUserHandler{
		writer: newWriter(deps, settings, "register_user"),
		goals:  goals,
	}
}

// Handle executes the register command.
func (h *RegisterUserHandler) Handle(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, invalid("register_user", err)
	}

	id := shared.UserID(strings.TrimSpace(cmd.UserID))
	if id == "" {
		id = shared.UserID(uuid.NewString())
	}
	tz := cmd.Timezone
	if tz == "" {
		tz = h.settings.DefaultTimezone
	}

	now := h.now()
	today, err := timeutil.LocalDate(now, tz)
	if err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	snap, err := progression.NewSnapshot(progression.NewSnapshotParams{
		ID:        id,
		Name:      strings.TrimSpace(cmd.Name),
		Timezone:  tz,
		Today:     today,
		CreatedAt: now,
		Goals:     h.goals,
	})
	if err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	snap = progression.Seal(snap, h.settings.IntegritySalt)
	if err := h.deps.Users.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("register_user: %w", err)
	}

	h.cacheUser(ctx, snap)
	h.publish([]shared.Event{progression.UserRegisteredEvent(snap, now)})
	h.log.Info("user registered", logger.UserID(id.String()), logger.String("timezone", tz))

	return &RegisterUserResult{Snapshot: snap}, nil
}
