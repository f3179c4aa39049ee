package query

import (
	"context"
	"fmt"

	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CLAN QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetClanQuery contains the query parameters.
type GetClanQuery struct {
	ClanID string
}

// Validate validates the query.
func (q GetClanQuery) Validate() error {
	_, err := shared.NewClanID(q.ClanID)
	return err
}

// ClanDTO is the read model of a clan.
type ClanDTO struct {
	ClanID string `json:"clanId"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	CXP    int    `json:"cxp"`

	// CXPIntoLevel and CXPForLevelUp drive the clan level bar.
	CXPIntoLevel  int `json:"cxpIntoLevel"`
	CXPForLevelUp int `json:"cxpForLevelUp"`

	Perks     clan.Perks `json:"perks"`
	NextPerks clan.Perks `json:"nextPerks"`
}

// GetClanHandler handles GetClanQuery.
type GetClanHandler struct {
	clans clan.Repository
}

// NewGetClanHandler creates a new GetClanHandler.
func NewGetClanHandler(clans clan.Repository) *GetClanHandler {
	return &GetClanHandler{clans: clans}
}

// Handle executes the query.
func (h *GetClanHandler) Handle(ctx context.Context, q GetClanQuery) (*ClanDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetClan", shared.ErrValidation, err.Error(), err)
	}

	c, err := h.clans.GetByID(ctx, shared.ClanID(q.ClanID))
	if err != nil {
		return nil, fmt.Errorf("get_clan: %w", err)
	}

	return &ClanDTO{
		ClanID:        c.ID.String(),
		Name:          c.Name,
		Level:         c.Level,
		CXP:           c.CXP,
		CXPIntoLevel:  c.CXP - clan.TotalCXPToReachClanLevel(c.Level),
		CXPForLevelUp: clan.CXPForClanLevelUp(c.Level),
		Perks:         c.Perks(),
		NextPerks:     clan.GetClanPerks(c.Level + 1),
	}, nil
}
