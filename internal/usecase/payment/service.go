// Package payment owns the transaction lifecycle: it accepts payment
// requests, drives the selected transfer engine, and emits completion
// events for the ledger writer.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/event"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
	"github.com/Xausdorf/ledger-core/internal/idgen"
	"github.com/Xausdorf/ledger-core/internal/usecase/transfer"
)

var ErrSameAccount = errors.New("from and to accounts must differ")

// EventPublisher hands completed transactions to the broker. Delivery
// downstream is at-least-once; consumers de-duplicate on TxnID.
type EventPublisher interface {
	PublishTransactionCompleted(ctx context.Context, evt event.TransactionCompleted) error
}

// Request is one payment initiation, as received from orchestration.
type Request struct {
	PaymentID   string
	UserID      string
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal
	Description string
	BankCode    entity.BankCode
}

type Service struct {
	uow        repository.UnitOfWork
	engines    *transfer.Registry
	publisher  EventPublisher
	ids        *idgen.Generator
	logger     *slog.Logger
	maxRetries int
}

func NewService(
	uow repository.UnitOfWork,
	engines *transfer.Registry,
	publisher EventPublisher,
	ids *idgen.Generator,
	logger *slog.Logger,
	maxRetries int,
) *Service {
	return &Service{
		uow:        uow,
		engines:    engines,
		publisher:  publisher,
		ids:        ids,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Accept creates a transaction for the payment and processes it once.
// Redelivered initiations are absorbed by the PaymentID lookup. The
// returned transaction may still be in a non-final status; callers poll
// for the outcome while the retry scheduler finishes the job.
func (s *Service) Accept(ctx context.Context, req Request) (*entity.Transaction, error) {
	if req.Amount.Sign() <= 0 {
		return nil, entity.ErrNonPositiveAmount
	}
	if req.FromAccount == req.ToAccount {
		return nil, ErrSameAccount
	}

	existing, err := s.uow.Transactions().FindByPaymentID(ctx, req.PaymentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("look up payment %s: %w", req.PaymentID, err)
	}

	id, err := s.ids.NextString()
	if err != nil {
		return nil, fmt.Errorf("issue transaction id: %w", err)
	}

	txn := entity.NewTransaction(
		id, req.PaymentID, req.UserID, req.FromAccount, req.ToAccount,
		req.Amount, req.Description, req.BankCode,
	)
	if err := s.uow.Transactions().Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	if err := s.uow.Transactions().UpdateStatus(ctx, txn.ID(), entity.StatusPending, entity.StatusProcessing); err != nil {
		return nil, fmt.Errorf("start processing: %w", err)
	}

	if err := s.execute(ctx, txn); err != nil {
		// Transient failure: the transaction stays in flight and the
		// scheduler owns recovery from here.
		s.logger.Warn("transfer left in flight",
			"txn_id", txn.ID(), "payment_id", txn.PaymentID(), "error", err)
	}

	return s.uow.Transactions().FindByID(ctx, txn.ID())
}

// Reprocess re-drives a transaction the scheduler found stuck. The
// caller holds the claim on the retry attempt; the STUCK -> PROCESSING
// transition here is a second guard against concurrent scans.
func (s *Service) Reprocess(ctx context.Context, txnID string) error {
	txn, err := s.uow.Transactions().FindByID(ctx, txnID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", txnID, err)
	}

	switch txn.Status() {
	case entity.StatusCompleted, entity.StatusFailed:
		return nil
	case entity.StatusStuck:
		err := s.uow.Transactions().UpdateStatus(ctx, txnID, entity.StatusStuck, entity.StatusProcessing)
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reclaim transaction %s: %w", txnID, err)
		}
	case entity.StatusProcessing:
		// Left in flight by a transient failure during Accept; the retry
		// attempt claim serializes re-drives.
	default:
		return nil
	}

	return s.execute(ctx, txn)
}

// RepublishCompleted re-emits the completion event for a transaction
// whose original publish failed. Duplicate emissions are harmless.
func (s *Service) RepublishCompleted(ctx context.Context, txnID string) error {
	txn, err := s.uow.Transactions().FindByID(ctx, txnID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", txnID, err)
	}
	if txn.Status() != entity.StatusCompleted {
		return nil
	}
	return s.publisher.PublishTransactionCompleted(ctx, completedEvent(txn))
}

// execute runs the engine for a transaction in PROCESSING and applies
// the outcome. A returned error means the outcome is unknown and the
// transaction was deliberately left in flight.
func (s *Service) execute(ctx context.Context, txn *entity.Transaction) error {
	engine, err := s.engines.Lookup(txn.BankCode())
	if err != nil {
		// No rail can ever serve this code; reject rather than retry.
		s.logger.Error("rejecting payment for unroutable bank code",
			"txn_id", txn.ID(), "bank_code", txn.BankCode().String())
		return s.uow.Transactions().UpdateStatus(ctx, txn.ID(), entity.StatusProcessing, entity.StatusFailed)
	}

	result, err := engine.Process(ctx, txn)
	if err != nil {
		if retryErr := s.ensureRetryAttempt(ctx, txn.ID(), entity.RetryTransaction); retryErr != nil {
			s.logger.Error("failed to schedule retry", "txn_id", txn.ID(), "error", retryErr)
		}
		return fmt.Errorf("process transfer: %w", err)
	}

	if !result.Success {
		s.logger.Info("transfer rejected",
			"txn_id", txn.ID(), "reason", string(result.ReasonCode))
		return s.uow.Transactions().UpdateStatus(ctx, txn.ID(), entity.StatusProcessing, entity.StatusFailed)
	}

	if result.ReasonCode == entity.ReasonAuthorized {
		return s.uow.Transactions().UpdateStatus(ctx, txn.ID(), entity.StatusProcessing, entity.StatusAuthorized)
	}

	if err := s.uow.Transactions().UpdateStatus(ctx, txn.ID(), entity.StatusProcessing, entity.StatusCompleted); err != nil {
		return fmt.Errorf("complete transaction %s: %w", txn.ID(), err)
	}

	if err := s.publisher.PublishTransactionCompleted(ctx, completedEvent(txn)); err != nil {
		// Balances are already moved and the status is final. Schedule a
		// republish instead of failing the payment.
		s.logger.Error("completion event publish failed",
			"txn_id", txn.ID(), "error", err)
		if retryErr := s.ensureRetryAttempt(ctx, txn.ID(), entity.RetryEvent); retryErr != nil {
			s.logger.Error("failed to schedule event republish", "txn_id", txn.ID(), "error", retryErr)
		}
	}

	return nil
}

func (s *Service) ensureRetryAttempt(ctx context.Context, originalID string, retryType entity.RetryType) error {
	_, err := s.uow.Retries().FindByOriginalID(ctx, originalID, retryType)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	retryID, err := s.ids.NextString()
	if err != nil {
		return fmt.Errorf("issue retry id: %w", err)
	}

	now := time.Now().UTC()
	return s.uow.Retries().Create(ctx, &entity.RetryAttempt{
		RetryID:       retryID,
		OriginalID:    originalID,
		RetryType:     retryType,
		Status:        entity.RetryPending,
		MaxRetries:    s.maxRetries,
		NextRetryTime: now,
		Priority:      retryPriority(retryType),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// Stuck money movements outrank missing ledger events.
func retryPriority(retryType entity.RetryType) int {
	if retryType == entity.RetryTransaction {
		return 10
	}
	return 1
}

func completedEvent(txn *entity.Transaction) event.TransactionCompleted {
	return event.TransactionCompleted{
		TxnID:       txn.ID(),
		PaymentID:   txn.PaymentID(),
		UserID:      txn.UserID(),
		FromAccount: txn.FromAccount(),
		ToAccount:   txn.ToAccount(),
		Amount:      txn.Amount(),
		Description: txn.Description(),
		Status:      entity.StatusCompleted.String(),
	}
}
