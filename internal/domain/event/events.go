// Package event defines the JSON payloads exchanged with the message
// broker. Delivery is at-least-once on both topics, so every consumer
// must de-duplicate on the carried identifiers.
package event

import "github.com/shopspring/decimal"

// PaymentRequested initiates a payment; consumed from the payment
// orchestration topic. PaymentID is the de-duplication key.
type PaymentRequested struct {
	PaymentID   string          `json:"payment_id"`
	UserID      string          `json:"user_id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	BankCode    string          `json:"bank_code"`
}

// TransactionCompleted is emitted once per completed transaction and
// drives ledger posting. TxnID is the de-duplication key.
type TransactionCompleted struct {
	TxnID       string          `json:"txn_id"`
	PaymentID   string          `json:"payment_id"`
	UserID      string          `json:"user_id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
}
