package repository

import "context"

// UnitOfWork scopes repository access to one atomic write. Repositories
// obtained from a non-begun unit of work operate auto-committed;
// FindForUpdate additionally requires Begin.
type UnitOfWork interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Accounts() AccountRepository
	Transactions() TransactionRepository
	Ledger() LedgerRepository
	Retries() RetryRepository
}
