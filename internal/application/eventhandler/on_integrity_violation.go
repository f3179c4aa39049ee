// Package eventhandler contains reactions to domain events published on the
// bus. Handlers run side effects such as cache maintenance; they never
// change progression state themselves.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON INTEGRITY VIOLATION HANDLER
// The audit job reports snapshots whose stored hash does not verify. The
// cached copy of such a user is dropped so every reader sees the stored
// (untrusted) snapshot until an operator repairs it.
// ═══════════════════════════════════════════════════════════════════════════

// OnIntegrityViolationHandler evicts flagged users from the snapshot cache.
type OnIntegrityViolationHandler struct {
	cache   progression.SnapshotCache
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnIntegrityViolationHandler creates the handler. cache may be nil, in
// which case violations are only logged.
func NewOnIntegrityViolationHandler(cache progression.SnapshotCache, logger *slog.Logger) *OnIntegrityViolationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnIntegrityViolationHandler{
		cache:   cache,
		logger:  logger.With("handler", "on_integrity_violation"),
		timeout: 2 * time.Second,
	}
}

// Register subscribes the handler to integrity violation events.
func (h *OnIntegrityViolationHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventIntegrityViolation, h.Handle)
}

// Handle implements shared.EventHandler.
func (h *OnIntegrityViolationHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventIntegrityViolation {
		return nil
	}

	userID, err := shared.NewUserID(event.AggregateID())
	if err != nil {
		h.logger.Warn("integrity violation without a valid user id", "aggregate_id", event.AggregateID())
		return nil
	}

	payload := event.Payload()
	h.logger.Warn("snapshot failed integrity verification",
		"user_id", userID.String(),
		"stored_hash", payload["stored_hash"],
		"version", payload["version"],
	)

	if h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.cache.Delete(ctx, userID); err != nil {
		h.logger.Warn("failed to evict flagged snapshot", "user_id", userID.String(), "error", err)
	}
	return nil
}
