package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
	"github.com/google/uuid"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
)

var (
	// ErrProviderTimeout marks a transfer whose outcome is unknown because
	// the external rail did not answer in time. Transient.
	ErrProviderTimeout = errors.New("external provider timed out")
	// ErrProviderUnavailable marks a transfer the external rail rejected
	// with an infrastructure error. Transient.
	ErrProviderUnavailable = errors.New("external provider unavailable")
)

// SimulatedRail stands in for an external bank rail. Outcomes are
// randomized but honor the same result contract as the internal engine,
// so the rest of the pipeline treats both identically.
type SimulatedRail struct {
	code       entity.BankCode
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedRail(code entity.BankCode, maxLatency time.Duration, seed uint64) *SimulatedRail {
	return &SimulatedRail{
		code:       code,
		maxLatency: maxLatency,
		rng:        rand.New(rand.NewPCG(seed, uint64(len(code)))),
	}
}

func (r *SimulatedRail) Process(ctx context.Context, txn *entity.Transaction) (*entity.TransferResult, error) {
	r.mu.Lock()
	latency := time.Duration(r.rng.Int64N(int64(r.maxLatency) + 1))
	roll := r.rng.Float64()
	r.mu.Unlock()

	if err := backoff.WaitContext(ctx, latency); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderTimeout, err)
	}

	switch {
	case roll < 0.70:
		return &entity.TransferResult{
			Success:     true,
			ReasonCode:  entity.ReasonApproved,
			ReferenceID: uuid.NewString(),
		}, nil
	case roll < 0.85:
		// Funds authorized on the rail; completion awaits verification.
		return &entity.TransferResult{
			Success:     true,
			ReasonCode:  entity.ReasonAuthorized,
			ReferenceID: uuid.NewString(),
		}, nil
	case roll < 0.95:
		return nil, fmt.Errorf("rail %s: %w", r.code, ErrProviderTimeout)
	default:
		return nil, fmt.Errorf("rail %s: %w", r.code, ErrProviderUnavailable)
	}
}

var _ Engine = (*SimulatedRail)(nil)
