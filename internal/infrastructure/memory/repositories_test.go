package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
	"github.com/Xausdorf/ledger-core/internal/infrastructure/memory"
)

func newUow(t *testing.T) *memory.UnitOfWork {
	t.Helper()
	return memory.NewUnitOfWork(memory.NewStore())
}

func createTxn(t *testing.T, uow *memory.UnitOfWork, id string) {
	t.Helper()

	txn := entity.NewTransaction(
		id, "pay-"+id, "user-1", "ACC-001", "ACC-002",
		decimal.NewFromInt(100), "test", entity.BankSelf,
	)
	require.NoError(t, uow.Transactions().Create(context.Background(), txn))
}

func TestUpdateStatusIsAClaim(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	createTxn(t, uow, "txn-1")

	require.NoError(t, uow.Transactions().UpdateStatus(ctx, "txn-1", entity.StatusPending, entity.StatusProcessing))

	// Second claimant loses.
	err := uow.Transactions().UpdateStatus(ctx, "txn-1", entity.StatusPending, entity.StatusProcessing)
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	txn, err := uow.Transactions().FindByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusProcessing, txn.Status())
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	createTxn(t, uow, "txn-1")

	// Backwards and out-of-machine moves are rejected even when the row
	// is in the expected source state.
	err := uow.Transactions().UpdateStatus(ctx, "txn-1", entity.StatusPending, entity.StatusCompleted)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	err = uow.Transactions().UpdateStatus(ctx, "txn-1", entity.StatusPending, entity.TransactionStatus("EXPLODED"))
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	txn, err := uow.Transactions().FindByID(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, txn.Status())
}

func TestUpdateStatusUnknownTransaction(t *testing.T) {
	uow := newUow(t)
	err := uow.Transactions().UpdateStatus(context.Background(), "missing", entity.StatusPending, entity.StatusProcessing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRejectsDuplicateTransaction(t *testing.T) {
	uow := newUow(t)
	createTxn(t, uow, "txn-1")

	txn := entity.NewTransaction(
		"txn-1", "pay-other", "user-1", "ACC-001", "ACC-002",
		decimal.NewFromInt(1), "dup", entity.BankSelf,
	)
	assert.Error(t, uow.Transactions().Create(context.Background(), txn))
}

func TestCreateRejectsDuplicatePaymentID(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	createTxn(t, uow, "txn-1")

	// A second transaction for the same payment would double-move funds.
	dup := entity.NewTransaction(
		"txn-2", "pay-txn-1", "user-1", "ACC-001", "ACC-002",
		decimal.NewFromInt(100), "dup", entity.BankSelf,
	)
	assert.Error(t, uow.Transactions().Create(ctx, dup))

	found, err := uow.Transactions().FindByPaymentID(ctx, "pay-txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", found.ID(), "first transaction for the payment stands")

	_, err = uow.Transactions().FindByID(ctx, "txn-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFindByPaymentID(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	createTxn(t, uow, "txn-1")

	txn, err := uow.Transactions().FindByPaymentID(ctx, "pay-txn-1")
	require.NoError(t, err)
	assert.Equal(t, "txn-1", txn.ID())

	_, err = uow.Transactions().FindByPaymentID(ctx, "pay-unknown")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFindForUpdateRequiresOpenUnitOfWork(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	require.NoError(t, uow.Accounts().Create(ctx, entity.NewAccount("ACC-001", decimal.NewFromInt(100))))

	_, err := uow.Accounts().FindForUpdate(ctx, "ACC-001")
	assert.ErrorIs(t, err, repository.ErrNoTransaction)
}

func TestAccountLockReleasedOnCommitAndRollback(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	require.NoError(t, uow.Accounts().Create(ctx, entity.NewAccount("ACC-001", decimal.NewFromInt(100))))

	for _, finish := range []func(repository.UnitOfWork) error{
		func(tx repository.UnitOfWork) error { return tx.Commit(ctx) },
		func(tx repository.UnitOfWork) error { return tx.Rollback(ctx) },
	} {
		tx, err := uow.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Accounts().FindForUpdate(ctx, "ACC-001")
		require.NoError(t, err)
		require.NoError(t, finish(tx))
	}

	// A third acquisition succeeding proves both paths released the lock.
	done := make(chan error, 1)
	go func() {
		tx, err := uow.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		if _, err := tx.Accounts().FindForUpdate(ctx, "ACC-001"); err != nil {
			done <- err
			return
		}
		done <- tx.Commit(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("account lock was not released")
	}
}

func TestFindForUpdateUnknownAccountReleasesLock(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()

	tx, err := uow.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Accounts().FindForUpdate(ctx, "ACC-404")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, tx.Rollback(ctx))

	// The failed lookup must not leave the lock held.
	require.NoError(t, uow.Accounts().Create(ctx, entity.NewAccount("ACC-404", decimal.NewFromInt(1))))
	tx, err = uow.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Accounts().FindForUpdate(ctx, "ACC-404")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

func TestLedgerSaveAbsorbsDuplicates(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()

	entry := entity.LedgerEntry{
		EntryID:       "entry-1",
		TxnID:         "txn-1",
		PaymentID:     "pay-1",
		AccountNumber: "ACC-001",
		EntryType:     entity.EntryDebit,
		Amount:        decimal.NewFromInt(100),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, uow.Ledger().Save(ctx, entry))

	dup := entry
	dup.EntryID = "entry-2"
	require.NoError(t, uow.Ledger().Save(ctx, dup))

	entries, err := uow.Ledger().ListByTxnID(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "entry-1", entries[0].EntryID, "first writer wins")

	exists, err := uow.Ledger().Exists(ctx, "txn-1", "ACC-001", entity.EntryDebit)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = uow.Ledger().Exists(ctx, "txn-1", "ACC-001", entity.EntryCredit)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFindStuckFiltersAndOrders(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()

	for _, id := range []string{"txn-old", "txn-new", "txn-done", "txn-fresh"} {
		createTxn(t, uow, id)
	}
	require.NoError(t, uow.Transactions().UpdateStatus(ctx, "txn-old", entity.StatusPending, entity.StatusProcessing))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, uow.Transactions().UpdateStatus(ctx, "txn-new", entity.StatusPending, entity.StatusProcessing))
	require.NoError(t, uow.Transactions().UpdateStatus(ctx, "txn-done", entity.StatusPending, entity.StatusProcessing))
	require.NoError(t, uow.Transactions().UpdateStatus(ctx, "txn-done", entity.StatusProcessing, entity.StatusCompleted))
	// txn-fresh stays PENDING; a pending row is queued, not stuck.

	cutoff := time.Now().UTC().Add(time.Second)
	stuck, err := uow.Transactions().FindStuck(ctx, cutoff, 10)
	require.NoError(t, err)

	require.Len(t, stuck, 2)
	assert.Equal(t, "txn-old", stuck[0].ID(), "oldest first")
	assert.Equal(t, "txn-new", stuck[1].ID())

	limited, err := uow.Transactions().FindStuck(ctx, cutoff, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "txn-old", limited[0].ID())
}

func TestRetryFindDueSelectionAndOrdering(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id string, status entity.RetryStatus, due time.Time, priority int) {
		require.NoError(t, uow.Retries().Create(ctx, &entity.RetryAttempt{
			RetryID:       id,
			OriginalID:    "txn-" + id,
			RetryType:     entity.RetryTransaction,
			Status:        status,
			MaxRetries:    3,
			NextRetryTime: due,
			Priority:      priority,
		}))
	}

	mk("due-low", entity.RetryPending, now.Add(-time.Minute), 1)
	mk("due-high", entity.RetryPending, now.Add(-time.Second), 10)
	mk("future", entity.RetryPending, now.Add(time.Hour), 10)
	mk("claimed", entity.RetryInProgress, now.Add(-time.Minute), 10)
	mk("spent", entity.RetryExhausted, now.Add(-time.Minute), 10)

	due, err := uow.Retries().FindDue(ctx, now, 10)
	require.NoError(t, err)

	require.Len(t, due, 2)
	assert.Equal(t, "due-high", due[0].RetryID, "higher priority first")
	assert.Equal(t, "due-low", due[1].RetryID)
}

func TestRetryFindStaleSelectsAgedClaims(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id string, status entity.RetryStatus, updated time.Time) {
		require.NoError(t, uow.Retries().Create(ctx, &entity.RetryAttempt{
			RetryID:    id,
			OriginalID: "txn-" + id,
			RetryType:  entity.RetryTransaction,
			Status:     status,
			MaxRetries: 3,
			UpdatedAt:  updated,
		}))
	}

	mk("aged", entity.RetryInProgress, now.Add(-time.Hour))
	mk("fresh", entity.RetryInProgress, now)
	mk("pending", entity.RetryPending, now.Add(-time.Hour))

	stale, err := uow.Retries().FindStale(ctx, now.Add(-10*time.Minute), 10)
	require.NoError(t, err)

	require.Len(t, stale, 1)
	assert.Equal(t, "aged", stale[0].RetryID)
}

func TestRetryUpdateStatusIfIsAClaim(t *testing.T) {
	uow := newUow(t)
	ctx := context.Background()

	require.NoError(t, uow.Retries().Create(ctx, &entity.RetryAttempt{
		RetryID:    "retry-1",
		OriginalID: "txn-1",
		RetryType:  entity.RetryTransaction,
		Status:     entity.RetryPending,
		MaxRetries: 3,
	}))

	require.NoError(t, uow.Retries().UpdateStatusIf(ctx, "retry-1", entity.RetryPending, entity.RetryInProgress))

	err := uow.Retries().UpdateStatusIf(ctx, "retry-1", entity.RetryPending, entity.RetryInProgress)
	assert.ErrorIs(t, err, repository.ErrStatusConflict)

	err = uow.Retries().UpdateStatusIf(ctx, "missing", entity.RetryPending, entity.RetryInProgress)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
