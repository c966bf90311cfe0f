package memory

import (
	"context"

	"github.com/Xausdorf/ledger-core/internal/domain/repository"
)

// UnitOfWork adapts the Store to the repository.UnitOfWork contract.
// Begin returns a child that tracks acquired account locks; Commit and
// Rollback release them in reverse acquisition order. Writes are applied
// immediately, so atomicity holds for whatever the held locks cover,
// which matches how transfers use the interface.
type UnitOfWork struct {
	store  *Store
	active bool
	held   []func()
}

func NewUnitOfWork(store *Store) *UnitOfWork {
	return &UnitOfWork{store: store}
}

func (u *UnitOfWork) Begin(_ context.Context) (repository.UnitOfWork, error) {
	return &UnitOfWork{store: u.store, active: true}, nil
}

func (u *UnitOfWork) Commit(_ context.Context) error {
	u.release()
	return nil
}

func (u *UnitOfWork) Rollback(_ context.Context) error {
	u.release()
	return nil
}

func (u *UnitOfWork) release() {
	for i := len(u.held) - 1; i >= 0; i-- {
		u.held[i]()
	}
	u.held = nil
	u.active = false
}

func (u *UnitOfWork) Accounts() repository.AccountRepository {
	return &accountRepo{uow: u}
}

func (u *UnitOfWork) Transactions() repository.TransactionRepository {
	return &transactionRepo{store: u.store}
}

func (u *UnitOfWork) Ledger() repository.LedgerRepository {
	return &ledgerRepo{store: u.store}
}

func (u *UnitOfWork) Retries() repository.RetryRepository {
	return &retryRepo{store: u.store}
}

var _ repository.UnitOfWork = (*UnitOfWork)(nil)
