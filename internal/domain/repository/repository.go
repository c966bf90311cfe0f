package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned by conditional status updates when the
	// row is no longer in the expected state. Callers use it to detect a
	// lost claim race and back off.
	ErrStatusConflict = errors.New("status conflict")
	// ErrInvalidTransition is returned by UpdateStatus when the requested
	// transition is not permitted by the status machine, regardless of the
	// row's current state.
	ErrInvalidTransition = errors.New("illegal status transition")
	// ErrNoTransaction is returned when a row-locking operation is invoked
	// outside of a started unit of work.
	ErrNoTransaction = errors.New("operation requires an active transaction")
)

type AccountRepository interface {
	Create(ctx context.Context, account *entity.Account) error
	FindByNumber(ctx context.Context, number string) (*entity.Account, error)
	// FindForUpdate acquires an exclusive lock on the account that is held
	// until the unit of work commits or rolls back. Callers must acquire
	// locks in ascending account-number order; that single rule is the
	// deadlock-prevention mechanism for the whole system.
	FindForUpdate(ctx context.Context, number string) (*entity.Account, error)
	UpdateBalance(ctx context.Context, number string, balance decimal.Decimal) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *entity.Transaction) error
	FindByID(ctx context.Context, id string) (*entity.Transaction, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*entity.Transaction, error)
	// UpdateStatus transitions id from one status to another. It returns
	// ErrStatusConflict when the row is not currently in from, which makes
	// it usable as a claim.
	UpdateStatus(ctx context.Context, id string, from, to entity.TransactionStatus) error
	SetRetryCount(ctx context.Context, id string, retryCount int) error
	// FindStuck lists non-terminal in-flight transactions whose last
	// update is older than the cutoff.
	FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Transaction, error)
}

type LedgerRepository interface {
	Exists(ctx context.Context, txnID, accountNumber string, entryType entity.EntryType) (bool, error)
	Save(ctx context.Context, entry entity.LedgerEntry) error
	ListByAccount(ctx context.Context, accountNumber string) ([]entity.LedgerEntry, error)
	ListByTxnID(ctx context.Context, txnID string) ([]entity.LedgerEntry, error)
}

type RetryRepository interface {
	Create(ctx context.Context, attempt *entity.RetryAttempt) error
	FindByOriginalID(ctx context.Context, originalID string, retryType entity.RetryType) (*entity.RetryAttempt, error)
	// FindDue lists non-terminal attempts whose NextRetryTime has elapsed,
	// highest priority first.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*entity.RetryAttempt, error)
	// FindStale lists IN_PROGRESS attempts whose last update is older than
	// the cutoff. Their claimant is presumed dead; the scheduler returns
	// them to PENDING.
	FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.RetryAttempt, error)
	// UpdateStatusIf is the claim primitive; see TransactionRepository.UpdateStatus.
	UpdateStatusIf(ctx context.Context, retryID string, from, to entity.RetryStatus) error
	Update(ctx context.Context, attempt *entity.RetryAttempt) error
}
