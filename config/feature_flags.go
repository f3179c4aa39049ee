package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Feature names.
const (
	FeatureClanSessionCXP  = "clan.session_cxp"             // member sessions feed clan CXP
	FeatureClanDailyPerk   = "clan.daily_perk"              // daily perk claims
	FeatureLiveEvents      = "stream.live_events"           // websocket notification stream
	FeatureDailyHoursCap   = "progression.daily_hours_cap"  // reject sessions over the daily cap
	FeatureAdminOverrides  = "admin.overrides"              // PATCH /api/v1/admin/users/{id}
	FeatureIntegrityReject = "progression.integrity_reject" // refuse writes on snapshots with a broken hash
)

// Feature is one toggle. Users fall into a stable bucket per feature, so a
// partial rollout always gives the same answer for the same user.
type Feature struct {
	Name           string
	Description    string
	Enabled        bool
	RolloutPercent int
}

var defaultFeatures = []Feature{
	{FeatureClanSessionCXP, "Convert member study sessions into clan CXP", true, 100},
	{FeatureClanDailyPerk, "Let clan members claim the daily level perk", true, 100},
	{FeatureLiveEvents, "Push progression notifications over websocket", true, 100},
	{FeatureDailyHoursCap, "Reject sessions that push a day over the hours cap", true, 100},
	{FeatureAdminOverrides, "Administrative progression overrides", true, 100},
	// Off: a broken hash is logged, not enforced.
	{FeatureIntegrityReject, "Refuse writes on snapshots whose integrity hash does not verify", false, 0},
}

// FeatureContext is what a flag is evaluated against.
type FeatureContext struct {
	UserID  string
	IsAdmin bool
}

// FeatureFlags holds the toggles plus per-user overrides. A nil
// *FeatureFlags answers with the defaults.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]*Feature
	overrides map[string]map[string]bool // user -> feature -> enabled
}

// LoadFeatureFlags returns the defaults with FEATURE_* environment
// overrides applied.
func LoadFeatureFlags() *FeatureFlags {
	ff, _ := BuildFeatureFlags(nil, os.Getenv)
	return ff
}

// BuildFeatureFlags applies settings (the YAML "features" section) and then
// getenv on top of the defaults. Values are true, false or a rollout
// percentage. A bad YAML entry is an error; a bad environment value is
// ignored. getenv may be nil.
func BuildFeatureFlags(settings map[string]string, getenv func(string) string) (*FeatureFlags, error) {
	ff := &FeatureFlags{
		features:  make(map[string]*Feature, len(defaultFeatures)),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFeatures {
		f := f
		ff.features[f.Name] = &f
	}

	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ff.set(name, settings[name]); err != nil {
			return nil, fmt.Errorf("features.%s: %w", name, err)
		}
	}

	if getenv != nil {
		for name := range ff.features {
			if raw := getenv(FeatureEnvKey(name)); raw != "" {
				_ = ff.set(name, raw)
			}
		}
	}
	return ff, nil
}

// FeatureEnvKey maps "clan.daily_perk" to "FEATURE_CLAN_DAILY_PERK".
func FeatureEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func (ff *FeatureFlags) set(name, raw string) error {
	raw = strings.TrimSpace(raw)
	if b, err := strconv.ParseBool(raw); err == nil {
		if b {
			return ff.SetRolloutPercent(name, 100)
		}
		return ff.SetRolloutPercent(name, 0)
	}
	p, err := strconv.Atoi(strings.TrimSuffix(raw, "%"))
	if err != nil {
		return fmt.Errorf("%q is neither a boolean nor a percentage", raw)
	}
	return ff.SetRolloutPercent(name, p)
}

// IsEnabled evaluates a feature. Order: per-user override, unknown feature
// (off), admin (on), switch, rollout bucket.
func (ff *FeatureFlags) IsEnabled(name string, ctx *FeatureContext) bool {
	if ff == nil {
		for _, f := range defaultFeatures {
			if f.Name == name {
				return f.Enabled
			}
		}
		return false
	}
	if ctx == nil {
		ctx = &FeatureContext{}
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if enabled, ok := ff.overrides[ctx.UserID][name]; ok && ctx.UserID != "" {
		return enabled
	}
	f, ok := ff.features[name]
	switch {
	case !ok:
		return false
	case ctx.IsAdmin:
		return true
	case !f.Enabled || f.RolloutPercent <= 0:
		return false
	case f.RolloutPercent >= 100 || ctx.UserID == "":
		return true
	default:
		return bucket(name, ctx.UserID) < f.RolloutPercent
	}
}

// IsEnabledFor is IsEnabled for a plain user id.
func (ff *FeatureFlags) IsEnabledFor(name, userID string) bool {
	return ff.IsEnabled(name, &FeatureContext{UserID: userID})
}

func bucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

// SetUserOverride pins a feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.overrides[userID] == nil {
		ff.overrides[userID] = make(map[string]bool)
	}
	ff.overrides[userID][name] = enabled
}

// ClearUserOverrides removes every override for userID.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.overrides, userID)
}

// SetRolloutPercent sets the share of users that get the feature; 0 turns
// it off.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.RolloutPercent = percent
	f.Enabled = percent > 0
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// Snapshot returns copies of every feature, sorted by name.
func (ff *FeatureFlags) Snapshot() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FeatureFlagError is returned by the mutators.
type FeatureFlagError struct{ Message string }

func (e *FeatureFlagError) Error() string { return e.Message }

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)
