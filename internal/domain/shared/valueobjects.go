// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// UserID
// ═══════════════════════════════════════════════════════════════════════════

// UserID is the internal identifier of a user (UUID string).
type UserID string

// IsValid checks the ID is non-empty and of sane length.
func (u UserID) IsValid() bool {
	s := strings.TrimSpace(string(u))
	return s != "" && len(s) <= 64
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID validates and creates a UserID.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", ErrInvalidUserID
	}
	return u, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ClanID
// ═══════════════════════════════════════════════════════════════════════════

// ClanID is the identifier of a clan. Empty means "no clan".
type ClanID string

// IsEmpty reports whether the user has no clan.
func (c ClanID) IsEmpty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// String returns the string representation.
func (c ClanID) String() string {
	return string(c)
}

// NewClanID validates and creates a ClanID.
func NewClanID(id string) (ClanID, error) {
	c := ClanID(strings.TrimSpace(id))
	if c.IsEmpty() || len(c) > 64 {
		return "", ErrInvalidClanID
	}
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Hours
// ═══════════════════════════════════════════════════════════════════════════

// Hours is a positive, finite amount of study time.
type Hours float64

// IsValid reports whether h is a usable session length.
func (h Hours) IsValid() bool {
	f := float64(h)
	return f > 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float64 returns the raw value.
func (h Hours) Float64() float64 {
	return float64(h)
}

// NewHours validates and creates Hours.
func NewHours(v float64) (Hours, error) {
	h := Hours(v)
	if !h.IsValid() {
		return 0, ErrNonPositiveHours
	}
	return h, nil
}
