package clan

import (
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/pkg/timeutil"
)

// PerkClaim is the result of a daily perk claim.
type PerkClaim struct {
	Member *progression.Snapshot
	Perks  Perks
	Events []progression.Event
}

// ClaimDailyPerk grants the clan's daily perks to a member, at most once per
// local date. Perk XP runs the member's level-up loop.
func ClaimDailyPerk(member *progression.Snapshot, c *Snapshot, today string) (*PerkClaim, error) {
	if !timeutil.IsValidDate(today) {
		return nil, shared.ErrMalformedDate
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if member == nil || member.ClanID.IsEmpty() || member.ClanID != c.ID {
		return nil, shared.ErrNotClanMember
	}
	if member.LastPerkClaimDate == today {
		return nil, shared.ErrPerkAlreadyClaimed
	}

	perks := c.Perks()
	if perks.IsZero() {
		return nil, shared.ErrClanPerkUnearned
	}

	next, events, err := progression.GrantBonus(member, perks.XP, perks.Coins)
	if err != nil {
		return nil, err
	}
	next.LastPerkClaimDate = today

	return &PerkClaim{Member: next, Perks: perks, Events: events}, nil
}

// PerkClaimedEvent builds the bus event of a successful claim.
func PerkClaimedEvent(userID shared.UserID, clanID shared.ClanID, perks Perks, at time.Time) shared.Event {
	return shared.NewGenericEvent(shared.EventClanPerkClaimed, userID.String(), at, map[string]interface{}{
		"clan_id": clanID.String(),
		"xp":      perks.XP,
		"coins":   perks.Coins,
	})
}
