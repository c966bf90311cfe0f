package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending             TransactionStatus = "PENDING"
	StatusProcessing          TransactionStatus = "PROCESSING"
	StatusCompleted           TransactionStatus = "COMPLETED"
	StatusFailed              TransactionStatus = "FAILED"
	StatusAuthorized          TransactionStatus = "AUTHORIZED"
	StatusPendingVerification TransactionStatus = "PENDING_VERIFICATION"
	StatusStuck               TransactionStatus = "STUCK"
)

// IsTerminal reports whether the status ends the normal payment path.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed,
		StatusAuthorized, StatusPendingVerification, StatusStuck:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// STUCK is entered only from a non-terminal in-flight state and always
// re-enters PROCESSING on retry.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusAuthorized || next == StatusStuck
	case StatusAuthorized:
		return next == StatusPendingVerification || next == StatusStuck
	case StatusPendingVerification:
		return next == StatusCompleted || next == StatusFailed || next == StatusStuck
	case StatusStuck:
		return next == StatusProcessing
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

func (s TransactionStatus) String() string {
	return string(s)
}

// Transaction is the lifecycle record of one funds movement. Rows are
// never deleted; the status history forms the audit trail.
type Transaction struct {
	id          string
	paymentID   string
	userID      string
	fromAccount string
	toAccount   string
	amount      decimal.Decimal
	description string
	bankCode    BankCode
	status      TransactionStatus
	retryCount  int
	createdAt   time.Time
	updatedAt   time.Time
}

func NewTransaction(
	id, paymentID, userID, fromAccount, toAccount string,
	amount decimal.Decimal,
	description string,
	bankCode BankCode,
) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		id:          id,
		paymentID:   paymentID,
		userID:      userID,
		fromAccount: fromAccount,
		toAccount:   toAccount,
		amount:      amount,
		description: description,
		bankCode:    bankCode,
		status:      StatusPending,
		createdAt:   now,
		updatedAt:   now,
	}
}

func ReconstructTransaction(
	id, paymentID, userID, fromAccount, toAccount string,
	amount decimal.Decimal,
	description string,
	bankCode BankCode,
	status TransactionStatus,
	retryCount int,
	createdAt, updatedAt time.Time,
) *Transaction {
	return &Transaction{
		id:          id,
		paymentID:   paymentID,
		userID:      userID,
		fromAccount: fromAccount,
		toAccount:   toAccount,
		amount:      amount,
		description: description,
		bankCode:    bankCode,
		status:      status,
		retryCount:  retryCount,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

func (t *Transaction) ID() string {
	return t.id
}

func (t *Transaction) PaymentID() string {
	return t.paymentID
}

func (t *Transaction) UserID() string {
	return t.userID
}

func (t *Transaction) FromAccount() string {
	return t.fromAccount
}

func (t *Transaction) ToAccount() string {
	return t.toAccount
}

func (t *Transaction) Amount() decimal.Decimal {
	return t.amount
}

func (t *Transaction) Description() string {
	return t.description
}

func (t *Transaction) BankCode() BankCode {
	return t.bankCode
}

func (t *Transaction) Status() TransactionStatus {
	return t.status
}

func (t *Transaction) RetryCount() int {
	return t.retryCount
}

func (t *Transaction) CreatedAt() time.Time {
	return t.createdAt
}

func (t *Transaction) UpdatedAt() time.Time {
	return t.updatedAt
}
