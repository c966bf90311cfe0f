// Package transfer executes a single funds movement between two
// accounts. The internal engine is the only place balances are mutated.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
)

// Engine processes one transfer. Business rejections are reported in the
// result with a nil error; a non-nil error always means a transient
// failure that is safe to retry upstream.
type Engine interface {
	Process(ctx context.Context, txn *entity.Transaction) (*entity.TransferResult, error)
}

// InternalEngine moves funds between two internally held accounts in one
// atomic write.
type InternalEngine struct {
	uow repository.UnitOfWork
}

func NewInternalEngine(uow repository.UnitOfWork) *InternalEngine {
	return &InternalEngine{uow: uow}
}

func (e *InternalEngine) Process(ctx context.Context, txn *entity.Transaction) (*entity.TransferResult, error) {
	tx, err := e.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock both accounts in ascending account-number order. Every caller
	// applies this exact order; it is the sole deadlock-prevention
	// mechanism.
	first, second := txn.FromAccount(), txn.ToAccount()
	if second < first {
		first, second = second, first
	}

	a, err := tx.Accounts().FindForUpdate(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", first, err)
	}

	b, err := tx.Accounts().FindForUpdate(ctx, second)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", second, err)
	}

	// Re-resolve payer and payee: the lock order is unrelated to the
	// direction of the transfer.
	payer, payee := a, b
	if payer.Number() != txn.FromAccount() {
		payer, payee = b, a
	}

	if err := payer.Debit(txn.Amount()); err != nil {
		if errors.Is(err, entity.ErrInsufficientFunds) {
			return &entity.TransferResult{
				Success:    false,
				ReasonCode: entity.ReasonInsufficientFunds,
			}, nil
		}
		return nil, fmt.Errorf("debit %s: %w", payer.Number(), err)
	}

	if err := payee.Credit(txn.Amount()); err != nil {
		return nil, fmt.Errorf("credit %s: %w", payee.Number(), err)
	}

	if err := tx.Accounts().UpdateBalance(ctx, payer.Number(), payer.Balance()); err != nil {
		return nil, fmt.Errorf("persist payer balance: %w", err)
	}

	if err := tx.Accounts().UpdateBalance(ctx, payee.Number(), payee.Balance()); err != nil {
		return nil, fmt.Errorf("persist payee balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	return &entity.TransferResult{
		Success:     true,
		ReasonCode:  entity.ReasonApproved,
		ReferenceID: txn.ID(),
	}, nil
}

var _ Engine = (*InternalEngine)(nil)
