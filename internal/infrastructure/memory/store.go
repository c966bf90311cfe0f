// Package memory implements the repository layer in process memory.
// It backs the unit tests and broker-less local runs with the same
// locking discipline as the postgres implementation: FindForUpdate takes
// a per-account mutex that is held until the unit of work ends.
package memory

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
)

type ledgerKey struct {
	txnID     string
	account   string
	entryType entity.EntryType
}

type txnRecord struct {
	id          string
	paymentID   string
	userID      string
	fromAccount string
	toAccount   string
	amount      decimal.Decimal
	description string
	bankCode    entity.BankCode
	status      entity.TransactionStatus
	retryCount  int
	createdAt   time.Time
	updatedAt   time.Time
}

func (r *txnRecord) toEntity() *entity.Transaction {
	return entity.ReconstructTransaction(
		r.id, r.paymentID, r.userID, r.fromAccount, r.toAccount,
		r.amount, r.description, r.bankCode, r.status, r.retryCount,
		r.createdAt, r.updatedAt,
	)
}

// Store holds all records and the per-account lock table. The store-wide
// mutex guards only map access; account balances are additionally
// protected by their per-account mutexes, which transfers hold across
// the whole read-validate-write sequence.
type Store struct {
	mu           sync.Mutex
	balances     map[string]decimal.Decimal
	accountLocks map[string]*sync.Mutex
	transactions map[string]*txnRecord
	byPaymentID  map[string]string
	entries      []entity.LedgerEntry
	entryIndex   map[ledgerKey]struct{}
	retries      map[string]entity.RetryAttempt
}

func NewStore() *Store {
	return &Store{
		balances:     make(map[string]decimal.Decimal),
		accountLocks: make(map[string]*sync.Mutex),
		transactions: make(map[string]*txnRecord),
		byPaymentID:  make(map[string]string),
		entryIndex:   make(map[ledgerKey]struct{}),
		retries:      make(map[string]entity.RetryAttempt),
	}
}

func (s *Store) lockFor(number string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountLocks[number]; !ok {
		s.accountLocks[number] = &sync.Mutex{}
	}
	return s.accountLocks[number]
}
