package entity

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// Account holds the current balance of one internally held account.
// Balances are mutated only while the account is exclusively locked by
// a transfer, so the entity itself carries no synchronization.
type Account struct {
	number  string
	balance decimal.Decimal
}

func NewAccount(number string, balance decimal.Decimal) *Account {
	return &Account{
		number:  number,
		balance: balance,
	}
}

func (a *Account) Number() string {
	return a.number
}

func (a *Account) Balance() decimal.Decimal {
	return a.balance
}

func (a *Account) Debit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	if a.balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.balance = a.balance.Sub(amount)
	return nil
}

func (a *Account) Credit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	a.balance = a.balance.Add(amount)
	return nil
}
