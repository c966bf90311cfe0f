package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
)

type accountRepo struct {
	uow *UnitOfWork
}

func (r *accountRepo) Create(_ context.Context, account *entity.Account) error {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[account.Number()]; ok {
		return fmt.Errorf("account %s already exists", account.Number())
	}
	s.balances[account.Number()] = account.Balance()
	return nil
}

func (r *accountRepo) FindByNumber(_ context.Context, number string) (*entity.Account, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[number]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return entity.NewAccount(number, balance), nil
}

func (r *accountRepo) FindForUpdate(ctx context.Context, number string) (*entity.Account, error) {
	if !r.uow.active {
		return nil, repository.ErrNoTransaction
	}

	lock := r.uow.store.lockFor(number)
	lock.Lock()

	account, err := r.FindByNumber(ctx, number)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	r.uow.held = append(r.uow.held, lock.Unlock)
	return account, nil
}

func (r *accountRepo) UpdateBalance(_ context.Context, number string, balance decimal.Decimal) error {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[number]; !ok {
		return repository.ErrNotFound
	}
	s.balances[number] = balance
	return nil
}

type transactionRepo struct {
	store *Store
}

func (r *transactionRepo) Create(_ context.Context, txn *entity.Transaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.transactions[txn.ID()]; ok {
		return fmt.Errorf("transaction %s already exists", txn.ID())
	}
	// Same guarantee as the UNIQUE constraint on payment_id in postgres;
	// it closes the race between two concurrent deliveries of one
	// initiation that both passed the lookup-before-create check.
	if existing, ok := r.store.byPaymentID[txn.PaymentID()]; ok {
		return fmt.Errorf("payment %s already has transaction %s", txn.PaymentID(), existing)
	}
	r.store.transactions[txn.ID()] = &txnRecord{
		id:          txn.ID(),
		paymentID:   txn.PaymentID(),
		userID:      txn.UserID(),
		fromAccount: txn.FromAccount(),
		toAccount:   txn.ToAccount(),
		amount:      txn.Amount(),
		description: txn.Description(),
		bankCode:    txn.BankCode(),
		status:      txn.Status(),
		retryCount:  txn.RetryCount(),
		createdAt:   txn.CreatedAt(),
		updatedAt:   txn.UpdatedAt(),
	}
	r.store.byPaymentID[txn.PaymentID()] = txn.ID()
	return nil
}

func (r *transactionRepo) FindByID(_ context.Context, id string) (*entity.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.toEntity(), nil
}

func (r *transactionRepo) FindByPaymentID(_ context.Context, paymentID string) (*entity.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, ok := r.store.byPaymentID[paymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.store.transactions[id].toEntity(), nil
}

func (r *transactionRepo) UpdateStatus(_ context.Context, id string, from, to entity.TransactionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.transactions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.status != from {
		return fmt.Errorf("%w: transaction %s is %s, want %s", repository.ErrStatusConflict, id, rec.status, from)
	}
	rec.status = to
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (r *transactionRepo) SetRetryCount(_ context.Context, id string, retryCount int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.transactions[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.retryCount = retryCount
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (r *transactionRepo) FindStuck(_ context.Context, olderThan time.Time, limit int) ([]*entity.Transaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var stuck []*entity.Transaction
	for _, rec := range r.store.transactions {
		if rec.status.IsTerminal() || rec.status == entity.StatusPending {
			continue
		}
		if rec.updatedAt.Before(olderThan) {
			stuck = append(stuck, rec.toEntity())
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		return stuck[i].UpdatedAt().Before(stuck[j].UpdatedAt())
	})
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

type ledgerRepo struct {
	store *Store
}

func (r *ledgerRepo) Exists(_ context.Context, txnID, accountNumber string, entryType entity.EntryType) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	_, ok := r.store.entryIndex[ledgerKey{txnID, accountNumber, entryType}]
	return ok, nil
}

func (r *ledgerRepo) Save(_ context.Context, entry entity.LedgerEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := ledgerKey{entry.TxnID, entry.AccountNumber, entry.EntryType}
	if _, ok := r.store.entryIndex[key]; ok {
		// Same semantics as the ON CONFLICT DO NOTHING insert in postgres.
		return nil
	}
	r.store.entryIndex[key] = struct{}{}
	r.store.entries = append(r.store.entries, entry)
	return nil
}

func (r *ledgerRepo) ListByAccount(_ context.Context, accountNumber string) ([]entity.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []entity.LedgerEntry
	for _, e := range r.store.entries {
		if e.AccountNumber == accountNumber {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *ledgerRepo) ListByTxnID(_ context.Context, txnID string) ([]entity.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []entity.LedgerEntry
	for _, e := range r.store.entries {
		if e.TxnID == txnID {
			out = append(out, e)
		}
	}
	return out, nil
}

type retryRepo struct {
	store *Store
}

func (r *retryRepo) Create(_ context.Context, attempt *entity.RetryAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.retries[attempt.RetryID]; ok {
		return fmt.Errorf("retry attempt %s already exists", attempt.RetryID)
	}
	r.store.retries[attempt.RetryID] = *attempt
	return nil
}

func (r *retryRepo) FindByOriginalID(_ context.Context, originalID string, retryType entity.RetryType) (*entity.RetryAttempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, a := range r.store.retries {
		if a.OriginalID == originalID && a.RetryType == retryType {
			out := a
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *retryRepo) FindDue(_ context.Context, now time.Time, limit int) ([]*entity.RetryAttempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var due []*entity.RetryAttempt
	for _, a := range r.store.retries {
		if a.Status != entity.RetryPending {
			continue
		}
		if !a.NextRetryTime.After(now) {
			out := a
			due = append(due, &out)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextRetryTime.Before(due[j].NextRetryTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *retryRepo) FindStale(_ context.Context, olderThan time.Time, limit int) ([]*entity.RetryAttempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var stale []*entity.RetryAttempt
	for _, a := range r.store.retries {
		if a.Status != entity.RetryInProgress {
			continue
		}
		if a.UpdatedAt.Before(olderThan) {
			out := a
			stale = append(stale, &out)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *retryRepo) UpdateStatusIf(_ context.Context, retryID string, from, to entity.RetryStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	a, ok := r.store.retries[retryID]
	if !ok {
		return repository.ErrNotFound
	}
	if a.Status != from {
		return fmt.Errorf("%w: retry %s is %s, want %s", repository.ErrStatusConflict, retryID, a.Status, from)
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	r.store.retries[retryID] = a
	return nil
}

func (r *retryRepo) Update(_ context.Context, attempt *entity.RetryAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.retries[attempt.RetryID]; !ok {
		return repository.ErrNotFound
	}
	attempt.UpdatedAt = time.Now().UTC()
	r.store.retries[attempt.RetryID] = *attempt
	return nil
}
