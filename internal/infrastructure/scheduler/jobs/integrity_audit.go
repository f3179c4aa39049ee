// Package jobs contains the scheduled jobs of StudyQuest.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/studyquest/studyquest-hub/internal/domain/progression"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRITY AUDIT JOB
// ══════════════════════════════════════════════════════════════════════════════

// IntegrityAuditJob pages through every stored snapshot and reports the ones
// whose integrity hash no longer verifies. It never repairs or rejects
// anything: violations are logged and published, and the scan continues.
type IntegrityAuditJob struct {
	repo      progression.Repository
	publisher shared.EventPublisher
	logger    *slog.Logger
	salt      string
	batchSize int
	now       func() time.Time

	lastRunStats atomic.Value // IntegrityAuditStats
}

// IntegrityAuditStats summarizes one run.
type IntegrityAuditStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Checked     int
	Violations  []shared.UserID
	LoadErrors  int
}

// NewIntegrityAuditJob creates the job. publisher may be nil.
func NewIntegrityAuditJob(repo progression.Repository, publisher shared.EventPublisher, salt string, batchSize int, logger *slog.Logger) *IntegrityAuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &IntegrityAuditJob{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("job", "integrity_audit"),
		salt:      salt,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Name implements scheduler.Job.
func (j *IntegrityAuditJob) Name() string { return "integrity_audit" }

// Description implements scheduler.Job.
func (j *IntegrityAuditJob) Description() string {
	return "Verifies the integrity hash of every stored progression snapshot"
}

// Run scans all snapshots. Only listing failures abort the run; a snapshot
// that cannot be loaded is counted and skipped.
func (j *IntegrityAuditJob) Run(ctx context.Context) error {
	stats := IntegrityAuditStats{StartedAt: j.now()}
	defer func() {
		stats.CompletedAt = j.now()
		j.lastRunStats.Store(stats)
	}()

	var after shared.UserID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := j.repo.ListIDs(ctx, after, j.batchSize)
		if err != nil {
			return fmt.Errorf("list snapshots after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			j.check(ctx, id, &stats)
		}
		after = ids[len(ids)-1]

		if len(ids) < j.batchSize {
			break
		}
	}

	j.logger.Info("integrity audit finished",
		"checked", stats.Checked,
		"violations", len(stats.Violations),
		"load_errors", stats.LoadErrors,
	)
	return nil
}

func (j *IntegrityAuditJob) check(ctx context.Context, id shared.UserID, stats *IntegrityAuditStats) {
	s, err := j.repo.GetByID(ctx, id)
	if err != nil {
		stats.LoadErrors++
		j.logger.Warn("failed to load snapshot", "user_id", id.String(), "error", err)
		return
	}

	stats.Checked++
	if progression.Verify(s, j.salt) {
		return
	}

	stats.Violations = append(stats.Violations, id)
	j.logger.Warn("integrity hash mismatch",
		"user_id", id.String(),
		"stored_hash", s.IntegrityHash,
		"version", s.Version,
	)

	if j.publisher != nil {
		if err := j.publisher.Publish(progression.IntegrityViolationEvent(s, j.now())); err != nil {
			j.logger.Error("failed to publish integrity violation", "user_id", id.String(), "error", err)
		}
	}
}

// LastRunStats returns the statistics of the most recent run.
func (j *IntegrityAuditJob) LastRunStats() (IntegrityAuditStats, bool) {
	v, ok := j.lastRunStats.Load().(IntegrityAuditStats)
	return v, ok
}
