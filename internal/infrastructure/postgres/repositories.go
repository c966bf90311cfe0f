package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so repositories
// run the same SQL inside and outside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UnitOfWork struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

func (u *UnitOfWork) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &UnitOfWork{pool: u.pool, tx: tx}, nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	return u.tx.Commit(ctx)
}

func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	return u.tx.Rollback(ctx)
}

func (u *UnitOfWork) q() querier {
	if u.tx != nil {
		return u.tx
	}
	return u.pool
}

func (u *UnitOfWork) Accounts() repository.AccountRepository {
	return &accountRepo{uow: u}
}

func (u *UnitOfWork) Transactions() repository.TransactionRepository {
	return &transactionRepo{uow: u}
}

func (u *UnitOfWork) Ledger() repository.LedgerRepository {
	return &ledgerRepo{uow: u}
}

func (u *UnitOfWork) Retries() repository.RetryRepository {
	return &retryRepo{uow: u}
}

var _ repository.UnitOfWork = (*UnitOfWork)(nil)

type accountRepo struct {
	uow *UnitOfWork
}

func (r *accountRepo) Create(ctx context.Context, account *entity.Account) error {
	_, err := r.uow.q().Exec(ctx,
		`INSERT INTO accounts (number, balance) VALUES ($1, $2)`,
		account.Number(), account.Balance(),
	)
	return err
}

func (r *accountRepo) FindByNumber(ctx context.Context, number string) (*entity.Account, error) {
	var balance decimal.Decimal
	err := r.uow.q().QueryRow(ctx,
		`SELECT balance FROM accounts WHERE number = $1`,
		number,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.NewAccount(number, balance), nil
}

func (r *accountRepo) FindForUpdate(ctx context.Context, number string) (*entity.Account, error) {
	if r.uow.tx == nil {
		return nil, repository.ErrNoTransaction
	}

	var balance decimal.Decimal
	err := r.uow.tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE number = $1 FOR UPDATE`,
		number,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.NewAccount(number, balance), nil
}

func (r *accountRepo) UpdateBalance(ctx context.Context, number string, balance decimal.Decimal) error {
	tag, err := r.uow.q().Exec(ctx,
		`UPDATE accounts SET balance = $1 WHERE number = $2`,
		balance, number,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type transactionRepo struct {
	uow *UnitOfWork
}

const transactionColumns = `id, payment_id, user_id, from_account, to_account,
	amount, description, bank_code, status, retry_count, created_at, updated_at`

func (r *transactionRepo) Create(ctx context.Context, txn *entity.Transaction) error {
	_, err := r.uow.q().Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.ID(), txn.PaymentID(), txn.UserID(), txn.FromAccount(), txn.ToAccount(),
		txn.Amount(), txn.Description(), txn.BankCode().String(),
		txn.Status().String(), txn.RetryCount(), txn.CreatedAt(), txn.UpdatedAt(),
	)
	return err
}

func scanTransaction(row pgx.Row) (*entity.Transaction, error) {
	var (
		id, paymentID, userID, fromAccount, toAccount string
		amount                                        decimal.Decimal
		description, bankCode, status                 string
		retryCount                                    int
		createdAt, updatedAt                          time.Time
	)
	err := row.Scan(&id, &paymentID, &userID, &fromAccount, &toAccount,
		&amount, &description, &bankCode, &status, &retryCount, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	parsed := entity.TransactionStatus(status)
	if !parsed.IsValid() {
		return nil, fmt.Errorf("transaction %s carries unknown status %q", id, status)
	}
	return entity.ReconstructTransaction(
		id, paymentID, userID, fromAccount, toAccount,
		amount, description, entity.BankCode(bankCode),
		parsed, retryCount, createdAt, updatedAt,
	), nil
}

func (r *transactionRepo) FindByID(ctx context.Context, id string) (*entity.Transaction, error) {
	return scanTransaction(r.uow.q().QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *transactionRepo) FindByPaymentID(ctx context.Context, paymentID string) (*entity.Transaction, error) {
	return scanTransaction(r.uow.q().QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE payment_id = $1`, paymentID))
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, id string, from, to entity.TransactionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}

	tag, err := r.uow.q().Exec(ctx,
		`UPDATE transactions SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3`,
		to.String(), id, from.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s not in %s", repository.ErrStatusConflict, id, from)
	}
	return nil
}

func (r *transactionRepo) SetRetryCount(ctx context.Context, id string, retryCount int) error {
	tag, err := r.uow.q().Exec(ctx,
		`UPDATE transactions SET retry_count = $1, updated_at = now() WHERE id = $2`,
		retryCount, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) FindStuck(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Transaction, error) {
	rows, err := r.uow.q().Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE status IN ('PROCESSING', 'AUTHORIZED', 'PENDING_VERIFICATION', 'STUCK')
		   AND updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

type ledgerRepo struct {
	uow *UnitOfWork
}

func (r *ledgerRepo) Exists(ctx context.Context, txnID, accountNumber string, entryType entity.EntryType) (bool, error) {
	var one int
	err := r.uow.q().QueryRow(ctx,
		`SELECT 1 FROM ledger_entries
		 WHERE txn_id = $1 AND account_number = $2 AND entry_type = $3
		 LIMIT 1`,
		txnID, accountNumber, string(entryType),
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ledgerRepo) Save(ctx context.Context, entry entity.LedgerEntry) error {
	// The unique index on (txn_id, account_number, entry_type) is the
	// second line of defense behind the Exists check.
	_, err := r.uow.q().Exec(ctx,
		`INSERT INTO ledger_entries
		   (entry_id, txn_id, payment_id, account_number, entry_type, amount, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (txn_id, account_number, entry_type) DO NOTHING`,
		entry.EntryID, entry.TxnID, entry.PaymentID, entry.AccountNumber,
		string(entry.EntryType), entry.Amount, entry.Description, entry.CreatedAt,
	)
	return err
}

const entryColumns = `entry_id, txn_id, payment_id, account_number, entry_type,
	amount, description, created_at`

func (r *ledgerRepo) list(ctx context.Context, where string, arg any) ([]entity.LedgerEntry, error) {
	rows, err := r.uow.q().Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE `+where+` ORDER BY created_at`,
		arg,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.LedgerEntry
	for rows.Next() {
		var e entity.LedgerEntry
		var entryType string
		err := rows.Scan(&e.EntryID, &e.TxnID, &e.PaymentID, &e.AccountNumber,
			&entryType, &e.Amount, &e.Description, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.EntryType = entity.EntryType(entryType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ledgerRepo) ListByAccount(ctx context.Context, accountNumber string) ([]entity.LedgerEntry, error) {
	return r.list(ctx, `account_number = $1`, accountNumber)
}

func (r *ledgerRepo) ListByTxnID(ctx context.Context, txnID string) ([]entity.LedgerEntry, error) {
	return r.list(ctx, `txn_id = $1`, txnID)
}

type retryRepo struct {
	uow *UnitOfWork
}

const retryColumns = `retry_id, original_id, retry_type, status, retry_count,
	max_retries, next_retry_time, retry_delay_seconds, priority, created_at, updated_at`

func (r *retryRepo) Create(ctx context.Context, attempt *entity.RetryAttempt) error {
	_, err := r.uow.q().Exec(ctx,
		`INSERT INTO retry_attempts (`+retryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.RetryID, attempt.OriginalID, string(attempt.RetryType),
		string(attempt.Status), attempt.RetryCount, attempt.MaxRetries,
		attempt.NextRetryTime, attempt.RetryDelaySeconds, attempt.Priority,
		attempt.CreatedAt, attempt.UpdatedAt,
	)
	return err
}

func scanRetry(row pgx.Row) (*entity.RetryAttempt, error) {
	var a entity.RetryAttempt
	var retryType, status string
	err := row.Scan(&a.RetryID, &a.OriginalID, &retryType, &status, &a.RetryCount,
		&a.MaxRetries, &a.NextRetryTime, &a.RetryDelaySeconds, &a.Priority,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.RetryType = entity.RetryType(retryType)
	a.Status = entity.RetryStatus(status)
	return &a, nil
}

func (r *retryRepo) FindByOriginalID(ctx context.Context, originalID string, retryType entity.RetryType) (*entity.RetryAttempt, error) {
	return scanRetry(r.uow.q().QueryRow(ctx,
		`SELECT `+retryColumns+` FROM retry_attempts
		 WHERE original_id = $1 AND retry_type = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		originalID, string(retryType),
	))
}

func (r *retryRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*entity.RetryAttempt, error) {
	rows, err := r.uow.q().Query(ctx,
		`SELECT `+retryColumns+` FROM retry_attempts
		 WHERE status = 'PENDING' AND next_retry_time <= $1
		 ORDER BY priority DESC, next_retry_time
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.RetryAttempt
	for rows.Next() {
		a, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *retryRepo) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.RetryAttempt, error) {
	rows, err := r.uow.q().Query(ctx,
		`SELECT `+retryColumns+` FROM retry_attempts
		 WHERE status = 'IN_PROGRESS' AND updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.RetryAttempt
	for rows.Next() {
		a, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *retryRepo) UpdateStatusIf(ctx context.Context, retryID string, from, to entity.RetryStatus) error {
	tag, err := r.uow.q().Exec(ctx,
		`UPDATE retry_attempts SET status = $1, updated_at = now()
		 WHERE retry_id = $2 AND status = $3`,
		string(to), retryID, string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: retry %s not in %s", repository.ErrStatusConflict, retryID, from)
	}
	return nil
}

func (r *retryRepo) Update(ctx context.Context, attempt *entity.RetryAttempt) error {
	tag, err := r.uow.q().Exec(ctx,
		`UPDATE retry_attempts
		 SET status = $1, retry_count = $2, next_retry_time = $3,
		     retry_delay_seconds = $4, updated_at = now()
		 WHERE retry_id = $5`,
		string(attempt.Status), attempt.RetryCount, attempt.NextRetryTime,
		attempt.RetryDelaySeconds, attempt.RetryID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
