package transfer

import (
	"fmt"

	"github.com/Xausdorf/ledger-core/internal/domain/entity"
)

// Registry maps each bank code to its engine. The mapping is fixed at
// composition time; there is no runtime registration.
type Registry struct {
	engines map[entity.BankCode]Engine
}

func NewRegistry(engines map[entity.BankCode]Engine) *Registry {
	owned := make(map[entity.BankCode]Engine, len(engines))
	for code, engine := range engines {
		owned[code] = engine
	}
	return &Registry{engines: owned}
}

func (r *Registry) Lookup(code entity.BankCode) (Engine, error) {
	engine, ok := r.engines[code]
	if !ok {
		return nil, fmt.Errorf("no transfer engine registered for bank code %q", code)
	}
	return engine, nil
}
