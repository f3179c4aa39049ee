// Package shared holds the identifiers, error kinds and event contracts that
// the progression and clan domains have in common. It imports nothing
// outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kinds classify failures for errors.Is. Interfaces map kinds to status
// codes; domain code wraps them in DomainError.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrForbidden        = errors.New("forbidden")

	ErrOptimisticLock  = errors.New("optimistic lock failure")
	ErrLockNotAcquired = errors.New("lock not acquired")
)

var (
	validationKinds = []error{ErrValidation, ErrInvalidID, ErrInvalidInput, ErrInvalidFormat, ErrNegativeValue, ErrValueOutOfRange}
	conflictKinds   = []error{ErrStateTransition, ErrAlreadyProcessed, ErrLimitExceeded, ErrInvalidState, ErrLockNotAcquired}
)

// DomainError carries where a failure happened and what kind it is.
// errors.Is matches both Kind and the wrapped Err.
type DomainError struct {
	Domain  string // progression, clan, app
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError creates an error of the given kind.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError is NewDomainError with a cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ══════════════════════════════════════════════════════════════════════════════
// SENTINELS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrUserNotFound      = NewDomainError("progression", "Find", ErrNotFound, "user not found")
	ErrUserAlreadyExists = NewDomainError("progression", "Create", ErrAlreadyExists, "user already exists")
	ErrInvalidUserID     = NewDomainError("progression", "Validate", ErrInvalidID, "invalid user ID")
	ErrNonPositiveHours  = NewDomainError("progression", "LogStudySession", ErrInvalidInput, "hours logged must be positive")
	ErrSessionTooLarge   = NewDomainError("progression", "LogStudySession", ErrValueOutOfRange, "session reward exceeds the progression counters")
	ErrOverrideTooLarge  = NewDomainError("progression", "ApplyOverride", ErrValueOutOfRange, "override value exceeds the progression counters")
	ErrMalformedDate     = NewDomainError("progression", "LogStudySession", ErrInvalidFormat, "date must be YYYY-MM-DD")
	ErrInvalidTimezone   = NewDomainError("progression", "Validate", ErrInvalidInput, "unknown IANA timezone")
	ErrInvalidSnapshot   = NewDomainError("progression", "Validate", ErrInvalidEntity, "snapshot violates progression invariants")
	ErrLevelOutOfDomain  = NewDomainError("progression", "Curve", ErrValueOutOfRange, "level must be at least 1")
	ErrPrestigeLocked    = NewDomainError("progression", "Prestige", ErrStateTransition, "level cap not reached")
	ErrDailyCapExceeded  = NewDomainError("progression", "LogStudySession", ErrLimitExceeded, "daily study hours cap exceeded")
	ErrSnapshotConflict  = NewDomainError("progression", "Save", ErrOptimisticLock, "snapshot was modified concurrently")
	ErrSessionInProgress = NewDomainError("progression", "Lock", ErrLockNotAcquired, "another session is being logged for this user")
	ErrIntegrityMismatch = NewDomainError("progression", "Verify", ErrInvalidState, "stored snapshot fails integrity verification")

	ErrClanNotFound        = NewDomainError("clan", "Find", ErrNotFound, "clan not found")
	ErrClanSessionTooLarge = NewDomainError("clan", "ApplyMemberSession", ErrValueOutOfRange, "session CXP exceeds the clan counter")
	ErrInvalidClanID       = NewDomainError("clan", "Validate", ErrInvalidID, "invalid clan ID")
	ErrNotClanMember       = NewDomainError("clan", "ClaimDailyPerk", ErrInvalidState, "user does not belong to a clan")
	ErrClanPerkUnearned    = NewDomainError("clan", "ClaimDailyPerk", ErrInvalidState, "clan level grants no perks yet")
	ErrPerkAlreadyClaimed  = NewDomainError("clan", "ClaimDailyPerk", ErrAlreadyProcessed, "clan perk already claimed today")
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports malformed input: ids, numbers, dates, zones.
func IsValidation(err error) bool { return isAny(err, validationKinds) }

// IsConflict reports a request that is well formed but not allowed in the
// current state, including a held per-user lock.
func IsConflict(err error) bool { return isAny(err, conflictKinds) }

func isAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
