package progression

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRITY HASH
// ══════════════════════════════════════════════════════════════════════════════
//
// The integrity hash is a 32-bit FNV-1a checksum. It is NOT cryptographically
// secure: it detects accidental corruption and naive edits of stored state,
// and anyone who knows the salt can forge it.

// hashedFields is the canonical serialization. Field order is fixed by the
// struct definition; do not reorder without migrating stored hashes.
type hashedFields struct {
	ID              shared.UserID         `json:"id"`
	Name            string                `json:"name"`
	Level           int                   `json:"level"`
	XP              int                   `json:"xp"`
	Streak          int                   `json:"streak"`
	LastStudiedDate string                `json:"lastStudiedDate"`
	StudyLog        []StudyLogEntry       `json:"studyLog"`
	Achievements    []UnlockedAchievement `json:"achievements"`
	Friends         []shared.UserID       `json:"friends"`
	CreatedAt       string                `json:"createdAt"`
	Prestige        int                   `json:"prestige"`
	Coins           int                   `json:"coins"`
	Inventory       []string              `json:"inventory"`
	Unlocks         []string              `json:"unlocks"`
	EquippedTitle   string                `json:"equippedTitle"`
	Equipped        Equipment             `json:"equipped"`
	Theme           string                `json:"theme"`
}

func canonical(s *Snapshot) ([]byte, error) {
	nonNil := func(v []string) []string {
		if v == nil {
			return []string{}
		}
		return v
	}

	f := hashedFields{
		ID:              s.ID,
		Name:            s.Name,
		Level:           s.Level,
		XP:              s.XP,
		Streak:          s.Streak,
		LastStudiedDate: s.LastStudiedDate,
		StudyLog:        s.StudyLog,
		Achievements:    s.Achievements,
		Friends:         s.Friends,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339Nano),
		Prestige:        s.Prestige,
		Coins:           s.Coins,
		Inventory:       nonNil(s.Inventory),
		Unlocks:         nonNil(s.Unlocks),
		EquippedTitle:   s.EquippedTitle,
		Equipped:        s.Equipped,
		Theme:           s.Theme,
	}
	if f.StudyLog == nil {
		f.StudyLog = []StudyLogEntry{}
	}
	if f.Friends == nil {
		f.Friends = []shared.UserID{}
	}
	f.Achievements = make([]UnlockedAchievement, len(s.Achievements))
	for i, a := range s.Achievements {
		f.Achievements[i] = UnlockedAchievement{ID: a.ID, UnlockedAt: a.UnlockedAt.UTC()}
	}
	return json.Marshal(f)
}

// ComputeHash returns the salted checksum of the snapshot's progression fields.
func ComputeHash(s *Snapshot, salt string) string {
	data, err := canonical(s)
	if err != nil {
		// Every hashed field is JSON-safe; an error means a corrupt snapshot.
		return ""
	}

	h := fnv.New32a()
	h.Write(data)
	h.Write([]byte(salt))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Seal returns a copy of s with IntegrityHash recomputed.
func Seal(s *Snapshot, salt string) *Snapshot {
	next := s.Clone()
	next.IntegrityHash = ComputeHash(next, salt)
	return next
}

// Verify reports whether the stored hash matches. A snapshot without a stored
// hash is treated as untrusted.
func Verify(s *Snapshot, salt string) bool {
	if s == nil || s.IntegrityHash == "" {
		return false
	}
	return ComputeHash(s, salt) == s.IntegrityHash
}
