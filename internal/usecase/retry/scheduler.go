// Package retry finds work left in limbo by crashes or slow external
// calls and re-drives it with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
	"github.com/Xausdorf/ledger-core/internal/idgen"
)

// Processor is the downstream re-drive surface, implemented by the
// payment service.
type Processor interface {
	Reprocess(ctx context.Context, txnID string) error
	RepublishCompleted(ctx context.Context, txnID string) error
}

type Config struct {
	// Interval between scan ticks.
	Interval time.Duration
	// StuckThreshold is how long an in-flight transaction may go without
	// an update before it counts as stuck.
	StuckThreshold time.Duration
	// BaseDelay is the first retry gap; gap n is BaseDelay * 2^(n-1).
	BaseDelay  time.Duration
	MaxRetries int
	// BatchLimit caps how many items one tick picks up.
	BatchLimit int
	// ItemTimeout bounds each re-drive call so no single item can stall
	// the scan.
	ItemTimeout time.Duration
	// ClaimTimeout is how long an IN_PROGRESS claim may go untouched
	// before the scan assumes the claimant crashed and returns the
	// attempt to PENDING. Must exceed ItemTimeout.
	ClaimTimeout time.Duration
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 5 * time.Minute
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 50
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 10 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 10 * time.Minute
	}
}

type Scheduler struct {
	uow       repository.UnitOfWork
	processor Processor
	ids       *idgen.Generator
	logger    *slog.Logger
	cfg       Config

	now func() time.Time
}

func NewScheduler(
	uow repository.UnitOfWork,
	processor Processor,
	ids *idgen.Generator,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	cfg.normalize()
	return &Scheduler{
		uow:       uow,
		processor: processor,
		ids:       ids,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes scan ticks on a fixed interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started",
		"interval", s.cfg.Interval, "stuck_threshold", s.cfg.StuckThreshold)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan cycle: mark aged in-flight transactions as stuck,
// free claims whose owner died, then re-drive every due retry attempt.
func (s *Scheduler) Tick(ctx context.Context) {
	s.markStuck(ctx)
	s.reclaimStale(ctx)
	s.driveDue(ctx)
}

// reclaimStale returns aged IN_PROGRESS attempts to PENDING. A claim
// that outlived ClaimTimeout belongs to a scheduler that crashed
// between claiming and persisting the outcome; without this the
// attempt would sit IN_PROGRESS forever and the stuck item would never
// be re-driven or exhausted.
func (s *Scheduler) reclaimStale(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.ClaimTimeout)

	attempts, err := s.uow.Retries().FindStale(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("stale claim scan failed", "error", err)
		return
	}

	for _, attempt := range attempts {
		err := s.uow.Retries().UpdateStatusIf(ctx, attempt.RetryID, entity.RetryInProgress, entity.RetryPending)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to reclaim stale retry claim",
				"retry_id", attempt.RetryID, "error", err)
			continue
		}
		s.logger.Warn("reclaimed stale retry claim",
			"retry_id", attempt.RetryID, "original_id", attempt.OriginalID,
			"retry_count", attempt.RetryCount, "claimed_at", attempt.UpdatedAt)
	}
}

func (s *Scheduler) markStuck(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StuckThreshold)

	txns, err := s.uow.Transactions().FindStuck(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("stuck scan failed", "error", err)
		return
	}

	for _, txn := range txns {
		if txn.Status() != entity.StatusStuck {
			err := s.uow.Transactions().UpdateStatus(ctx, txn.ID(), txn.Status(), entity.StatusStuck)
			if errors.Is(err, repository.ErrStatusConflict) {
				// Another scan tick, or the in-flight path itself, got
				// there first.
				continue
			}
			if err != nil {
				s.logger.Error("failed to mark transaction stuck",
					"txn_id", txn.ID(), "error", err)
				continue
			}
			s.logger.Warn("transaction marked stuck",
				"txn_id", txn.ID(), "was", txn.Status().String(),
				"updated_at", txn.UpdatedAt())
		}

		if err := s.ensureAttempt(ctx, txn.ID()); err != nil {
			s.logger.Error("failed to schedule stuck transaction",
				"txn_id", txn.ID(), "error", err)
		}
	}
}

func (s *Scheduler) ensureAttempt(ctx context.Context, txnID string) error {
	existing, err := s.uow.Retries().FindByOriginalID(ctx, txnID, entity.RetryTransaction)
	if err == nil {
		// A finished attempt for a transaction that got stuck again
		// restarts from scratch; an exhausted one stays with the operator.
		if existing.Status == entity.RetryCompleted || existing.Status == entity.RetryCancelled {
			existing.Status = entity.RetryPending
			existing.RetryCount = 0
			existing.NextRetryTime = s.now()
			return s.uow.Retries().Update(ctx, existing)
		}
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	retryID, err := s.ids.NextString()
	if err != nil {
		return err
	}

	now := s.now()
	return s.uow.Retries().Create(ctx, &entity.RetryAttempt{
		RetryID:       retryID,
		OriginalID:    txnID,
		RetryType:     entity.RetryTransaction,
		Status:        entity.RetryPending,
		MaxRetries:    s.cfg.MaxRetries,
		NextRetryTime: now,
		Priority:      10,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func (s *Scheduler) driveDue(ctx context.Context) {
	due, err := s.uow.Retries().FindDue(ctx, s.now(), s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("due scan failed", "error", err)
		return
	}

	for _, attempt := range due {
		s.driveOne(ctx, attempt)
	}
}

func (s *Scheduler) driveOne(ctx context.Context, attempt *entity.RetryAttempt) {
	if attempt.RetryCount >= attempt.MaxRetries {
		err := s.uow.Retries().UpdateStatusIf(ctx, attempt.RetryID, entity.RetryPending, entity.RetryExhausted)
		if errors.Is(err, repository.ErrStatusConflict) {
			return
		}
		if err != nil {
			s.logger.Error("failed to finalize exhausted retry",
				"retry_id", attempt.RetryID, "error", err)
			return
		}
		s.logger.Error("retry ceiling reached, operator attention required",
			"retry_id", attempt.RetryID, "original_id", attempt.OriginalID,
			"retry_type", string(attempt.RetryType), "retry_count", attempt.RetryCount)
		return
	}

	// Claim before acting so two concurrent ticks never double-process.
	err := s.uow.Retries().UpdateStatusIf(ctx, attempt.RetryID, entity.RetryPending, entity.RetryInProgress)
	if errors.Is(err, repository.ErrStatusConflict) {
		return
	}
	if err != nil {
		s.logger.Error("failed to claim retry attempt",
			"retry_id", attempt.RetryID, "error", err)
		return
	}

	attempt.Status = entity.RetryInProgress
	attempt.RetryCount++
	delay := backoff.Exponential(s.cfg.BaseDelay, attempt.RetryCount-1)
	attempt.NextRetryTime = s.now().Add(delay)
	attempt.RetryDelaySeconds = int64(delay / time.Second)

	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	driveErr := s.dispatch(itemCtx, attempt)
	cancel()

	switch {
	case driveErr != nil:
		attempt.Status = entity.RetryPending
		s.logger.Warn("re-drive failed, leaving for next cycle",
			"retry_id", attempt.RetryID, "original_id", attempt.OriginalID,
			"retry_count", attempt.RetryCount,
			"next_retry", attempt.NextRetryTime, "error", driveErr)
	case attempt.Status == entity.RetryInProgress:
		attempt.Status = entity.RetryCompleted
	}

	if attempt.RetryType == entity.RetryTransaction {
		if err := s.uow.Transactions().SetRetryCount(ctx, attempt.OriginalID, attempt.RetryCount); err != nil {
			s.logger.Error("failed to mirror retry count",
				"txn_id", attempt.OriginalID, "error", err)
		}
	}

	if err := s.uow.Retries().Update(ctx, attempt); err != nil {
		s.logger.Error("failed to persist retry attempt",
			"retry_id", attempt.RetryID, "error", err)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, attempt *entity.RetryAttempt) error {
	switch attempt.RetryType {
	case entity.RetryTransaction:
		return s.processor.Reprocess(ctx, attempt.OriginalID)
	case entity.RetryEvent:
		return s.processor.RepublishCompleted(ctx, attempt.OriginalID)
	default:
		s.logger.Error("cancelling retry with unknown type",
			"retry_id", attempt.RetryID, "retry_type", string(attempt.RetryType))
		attempt.Status = entity.RetryCancelled
		return nil
	}
}
