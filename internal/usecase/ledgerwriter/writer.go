// Package ledgerwriter consumes completion events and appends the
// paired debit/credit rows for each completed transaction.
package ledgerwriter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/event"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
	"github.com/Xausdorf/ledger-core/internal/idgen"
)

type Writer struct {
	uow    repository.UnitOfWork
	ids    *idgen.Generator
	logger *slog.Logger
}

func NewWriter(uow repository.UnitOfWork, ids *idgen.Generator, logger *slog.Logger) *Writer {
	return &Writer{
		uow:    uow,
		ids:    ids,
		logger: logger,
	}
}

// HandleCompleted posts one DEBIT and one CREDIT row for the event.
// Redelivered events are absorbed by the per-side existence check, so
// each (txn, account, side) is written at most once. Any error is
// returned to the consumer, which then withholds the acknowledgment and
// lets the transport redeliver.
func (w *Writer) HandleCompleted(ctx context.Context, evt event.TransactionCompleted) error {
	if evt.Status != entity.StatusCompleted.String() {
		w.logger.Debug("ignoring non-completed event",
			"txn_id", evt.TxnID, "status", evt.Status)
		return nil
	}

	tx, err := w.uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger post: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sides := []struct {
		account   string
		entryType entity.EntryType
	}{
		{evt.FromAccount, entity.EntryDebit},
		{evt.ToAccount, entity.EntryCredit},
	}

	wrote := false
	for _, side := range sides {
		exists, err := tx.Ledger().Exists(ctx, evt.TxnID, side.account, side.entryType)
		if err != nil {
			return fmt.Errorf("check %s entry for txn %s: %w", side.entryType, evt.TxnID, err)
		}
		if exists {
			continue
		}

		entryID, err := w.ids.NextString()
		if err != nil {
			return fmt.Errorf("issue entry id: %w", err)
		}

		err = tx.Ledger().Save(ctx, entity.LedgerEntry{
			EntryID:       entryID,
			TxnID:         evt.TxnID,
			PaymentID:     evt.PaymentID,
			AccountNumber: side.account,
			EntryType:     side.entryType,
			Amount:        evt.Amount,
			Description:   evt.Description,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("save %s entry for txn %s: %w", side.entryType, evt.TxnID, err)
		}
		wrote = true
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger post: %w", err)
	}

	if !wrote {
		w.logger.Debug("duplicate completion event absorbed", "txn_id", evt.TxnID)
	}
	return nil
}
