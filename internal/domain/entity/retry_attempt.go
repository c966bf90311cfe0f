package entity

import "time"

type RetryType string

const (
	// RetryTransaction re-drives transfer processing for a stuck transaction.
	RetryTransaction RetryType = "TRANSACTION"
	// RetryEvent republishes the completion event of an already completed
	// transaction whose publish step failed.
	RetryEvent RetryType = "EVENT"
)

type RetryStatus string

const (
	RetryPending    RetryStatus = "PENDING"
	RetryInProgress RetryStatus = "IN_PROGRESS"
	RetryCompleted  RetryStatus = "COMPLETED"
	RetryCancelled  RetryStatus = "CANCELLED"
	RetryExhausted  RetryStatus = "MAX_RETRIES_EXCEEDED"
)

// IsTerminal reports whether the attempt is finished and must never be
// scheduled again.
func (s RetryStatus) IsTerminal() bool {
	return s == RetryCompleted || s == RetryCancelled || s == RetryExhausted
}

// RetryAttempt tracks the recovery schedule for one stuck item. The
// scheduler claims an attempt (PENDING -> IN_PROGRESS) before acting on
// it so two concurrent scan ticks never double-process the same item.
type RetryAttempt struct {
	RetryID           string
	OriginalID        string
	RetryType         RetryType
	Status            RetryStatus
	RetryCount        int
	MaxRetries        int
	NextRetryTime     time.Time
	RetryDelaySeconds int64
	Priority          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
