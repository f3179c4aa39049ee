package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/studyquest/studyquest-hub/internal/application/command"
	"github.com/studyquest/studyquest-hub/internal/application/query"
	"github.com/studyquest/studyquest-hub/internal/domain/clan"
	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/interface/http/handlers"
	"github.com/studyquest/studyquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// USER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type registerUserRequest struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

// handleRegisterUser handles POST /api/v1/users
func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.RegisterUser == nil {
		writeNotImplemented(w, r, "register")
		return
	}

	var req registerUserRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RegisterUser.Handle(r.Context(), command.RegisterUserCommand{
		UserID:   req.UserID,
		Name:     req.Name,
		Timezone: req.Timezone,
	})
	if err != nil {
		s.writeDomainError(w, r, "register user", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, newUserResponse(result.Snapshot))
}

// handleGetProgress handles GET /api/v1/users/{id}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetProgress == nil {
		writeNotImplemented(w, r, "progress")
		return
	}

	includeLog := queryBool(r, "include_study_log") ||
		strings.Contains(r.URL.Query().Get("include"), "studylog")

	dto, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{
		UserID:          r.PathValue("id"),
		IncludeStudyLog: includeLog,
	})
	if err != nil {
		s.writeDomainError(w, r, "get progress", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

type logSessionRequest struct {
	Hours float64 `json:"hours"`

	// RequestID is an optional client-side correlation id.
	RequestID string `json:"requestId"`
}

type sessionResponse struct {
	User         userResponse        `json:"user"`
	LocalDate    string              `json:"localDate"`
	SessionXP    int                 `json:"sessionXp"`
	SessionCoins int                 `json:"sessionCoins"`
	Events       []progression.Event `json:"events"`
	Clan         *clanSummary        `json:"clan,omitempty"`
	ClanLevelUps []clan.LevelUp      `json:"clanLevelUps,omitempty"`
}

// handleLogSession handles POST /api/v1/users/{id}/sessions
func (s *Server) handleLogSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogSession == nil {
		writeNotImplemented(w, r, "sessions")
		return
	}

	var req logSessionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestIDFrom(r.Context())
	}

	result, err := s.deps.LogSession.Handle(r.Context(), command.LogStudySessionCommand{
		UserID:    r.PathValue("id"),
		Hours:     req.Hours,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.writeDomainError(w, r, "log study session", err)
		return
	}

	events := result.Events
	if events == nil {
		events = []progression.Event{}
	}
	resp := sessionResponse{
		User:         newUserResponse(result.Snapshot),
		LocalDate:    result.LocalDate,
		SessionXP:    result.SessionXP,
		SessionCoins: result.SessionCoins,
		Events:       events,
		ClanLevelUps: result.ClanLevelUps,
	}
	if result.Clan != nil {
		resp.Clan = newClanSummary(result.Clan)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handlePrestige handles POST /api/v1/users/{id}/prestige
func (s *Server) handlePrestige(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prestige == nil {
		writeNotImplemented(w, r, "prestige")
		return
	}

	result, err := s.deps.Prestige.Handle(r.Context(), command.PrestigeCommand{UserID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, "prestige", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"user":     newUserResponse(result.Snapshot),
		"prestige": result.Config,
	})
}

// handleClaimClanPerk handles POST /api/v1/users/{id}/clan-perk
func (s *Server) handleClaimClanPerk(w http.ResponseWriter, r *http.Request) {
	if s.deps.ClaimClanPerk == nil {
		writeNotImplemented(w, r, "clan perk")
		return
	}

	result, err := s.deps.ClaimClanPerk.Handle(r.Context(), command.ClaimClanPerkCommand{UserID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, "claim clan perk", err)
		return
	}

	events := result.Events
	if events == nil {
		events = []progression.Event{}
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"user":      newUserResponse(result.Snapshot),
		"perks":     result.Perks,
		"localDate": result.LocalDate,
		"events":    events,
	})
}

type setClanRequest struct {
	ClanID string `json:"clanId"`
}

// handleSetClan handles PUT /api/v1/users/{id}/clan
func (s *Server) handleSetClan(w http.ResponseWriter, r *http.Request) {
	if s.deps.SetClan == nil {
		writeNotImplemented(w, r, "clan membership")
		return
	}

	var req setClanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	snap, err := s.deps.SetClan.Handle(r.Context(), command.SetClanCommand{
		UserID: r.PathValue("id"),
		ClanID: req.ClanID,
	})
	if err != nil {
		s.writeDomainError(w, r, "set clan", err)
		return
	}
	writeJSON(w, r, http.StatusOK, newUserResponse(snap))
}

// ══════════════════════════════════════════════════════════════════════════════
// CLAN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createClanRequest struct {
	ClanID string `json:"clanId"`
	Name   string `json:"name"`
}

// handleCreateClan handles POST /api/v1/clans
func (s *Server) handleCreateClan(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateClan == nil {
		writeNotImplemented(w, r, "clans")
		return
	}

	var req createClanRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	c, err := s.deps.CreateClan.Handle(r.Context(), command.CreateClanCommand{ClanID: req.ClanID, Name: req.Name})
	if err != nil {
		s.writeDomainError(w, r, "create clan", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newClanSummary(c))
}

// handleGetClan handles GET /api/v1/clans/{id}
func (s *Server) handleGetClan(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetClan == nil {
		writeNotImplemented(w, r, "clans")
		return
	}

	dto, err := s.deps.GetClan.Handle(r.Context(), query.GetClanQuery{ClanID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, "get clan", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type adminOverrideRequest struct {
	XP       *int `json:"xp"`
	Coins    *int `json:"coins"`
	Prestige *int `json:"prestige"`
	Streak   *int `json:"streak"`
}

// handleAdminOverride handles PATCH /api/v1/admin/users/{id}
func (s *Server) handleAdminOverride(w http.ResponseWriter, r *http.Request) {
	if s.deps.AdminOverride == nil {
		writeNotImplemented(w, r, "admin")
		return
	}

	var req adminOverrideRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.AdminOverride.Handle(r.Context(), command.AdminOverrideCommand{
		UserID:   r.PathValue("id"),
		XP:       req.XP,
		Coins:    req.Coins,
		Prestige: req.Prestige,
		Streak:   req.Streak,
		Actor:    handlers.Actor(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, "admin override", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"before": newUserResponse(result.Before),
		"after":  newUserResponse(result.After),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE MODELS
// ══════════════════════════════════════════════════════════════════════════════

type userResponse struct {
	UserID   string                    `json:"userId"`
	Name     string                    `json:"name"`
	Timezone string                    `json:"timezone"`
	Level    int                       `json:"level"`
	XP       int                       `json:"xp"`
	Prestige int                       `json:"prestige"`
	Progress progression.LevelProgress `json:"progress"`
	Title    string                    `json:"title"`
	Coins    int                       `json:"coins"`
	Streak   int                       `json:"streak"`
	ClanID   string                    `json:"clanId,omitempty"`
	Version  int64                     `json:"version"`
}

func newUserResponse(s *progression.Snapshot) userResponse {
	return userResponse{
		UserID:   s.ID.String(),
		Name:     s.Name,
		Timezone: s.Timezone,
		Level:    s.Level,
		XP:       s.XP,
		Prestige: s.Prestige,
		Progress: s.Progress(),
		Title:    s.DisplayTitle(),
		Coins:    s.Coins,
		Streak:   s.Streak,
		ClanID:   s.ClanID.String(),
		Version:  s.Version,
	}
}

type clanSummary struct {
	ClanID string     `json:"clanId"`
	Name   string     `json:"name"`
	Level  int        `json:"level"`
	CXP    int        `json:"cxp"`
	Perks  clan.Perks `json:"perks"`
}

func newClanSummary(c *clan.Snapshot) *clanSummary {
	return &clanSummary{
		ClanID: c.ID.String(),
		Name:   c.Name,
		Level:  c.Level,
		CXP:    c.CXP,
		Perks:  c.Perks(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST AND ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = 64 << 10
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func writeNotImplemented(w http.ResponseWriter, r *http.Request, what string) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", what+" handler not configured")
}

// errorStatus maps an application error to an HTTP status and API code.
// Specific sentinels are matched before the broad categories.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, command.ErrFeatureDisabled):
		return http.StatusForbidden, "feature_disabled"
	case errors.Is(err, shared.ErrDailyCapExceeded):
		return http.StatusUnprocessableEntity, "daily_cap_exceeded"
	case errors.Is(err, shared.ErrSessionInProgress):
		return http.StatusConflict, "session_in_progress"
	case errors.Is(err, shared.ErrIntegrityMismatch):
		return http.StatusConflict, "integrity_mismatch"
	case errors.Is(err, shared.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, shared.ErrOptimisticLock):
		return http.StatusConflict, "concurrent_modification"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logger.Operation(op), logger.Err(err))
		writeJSONError(w, r, status, code, "an unexpected error occurred")
		return
	}

	log.Debug("request rejected", logger.Operation(op), logger.Int("status", status), logger.Err(err))
	writeJSONError(w, r, status, code, err.Error())
}
