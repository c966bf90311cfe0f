package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry records one side of a completed transfer. Entries are
// immutable once written; at most one entry exists per
// (TxnID, AccountNumber, EntryType).
type LedgerEntry struct {
	EntryID       string
	TxnID         string
	PaymentID     string
	AccountNumber string
	EntryType     EntryType
	Amount        decimal.Decimal
	Description   string
	CreatedAt     time.Time
}
