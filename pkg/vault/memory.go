package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
)

type MemoryVault struct {
	mu     sync.RWMutex
	states []StateAndRef
	index  map[ledger.StateRef]int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{index: make(map[ledger.StateRef]int)}
}

func (v *MemoryVault) Record(_ context.Context, txID string, consumed []ledger.StateRef, outputs []insurance.Policy) ([]StateAndRef, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	spent := make(map[ledger.StateRef]bool, len(consumed))
	for _, ref := range consumed {
		i, ok := v.index[ref]
		if !ok || v.states[i].Consumed() || spent[ref] {
			return nil, fmt.Errorf("%w: %s", ErrConsumed, ref)
		}
		spent[ref] = true
	}

	seen := make(map[string]bool, len(outputs))
	for _, p := range outputs {
		number := p.PolicyNumber()
		if seen[number] {
			return nil, fmt.Errorf("%w: %s", ErrPolicyExists, number)
		}
		seen[number] = true
		for _, s := range v.states {
			if s.State.PolicyNumber() == number && !s.Consumed() && !spent[s.Ref] {
				return nil, fmt.Errorf("%w: %s", ErrPolicyExists, number)
			}
		}
	}

	for ref := range spent {
		v.states[v.index[ref]].ConsumedBy = txID
	}
	out := make([]StateAndRef, 0, len(outputs))
	for i, p := range outputs {
		s := StateAndRef{Ref: ledger.StateRef{TxID: txID, Index: i}, State: p}
		v.index[s.Ref] = len(v.states)
		v.states = append(v.states, s)
		out = append(out, s)
	}
	return out, nil
}

func (v *MemoryVault) Current(_ context.Context, policyNumber string) (StateAndRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for i := len(v.states) - 1; i >= 0; i-- {
		s := v.states[i]
		if s.State.PolicyNumber() == policyNumber && !s.Consumed() {
			return s, nil
		}
	}
	return StateAndRef{}, ErrNotFound
}

func (v *MemoryVault) History(_ context.Context, policyNumber string) ([]StateAndRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []StateAndRef
	for _, s := range v.states {
		if s.State.PolicyNumber() == policyNumber {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (v *MemoryVault) Get(_ context.Context, ref ledger.StateRef) (StateAndRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	i, ok := v.index[ref]
	if !ok {
		return StateAndRef{}, ErrNotFound
	}
	return v.states[i], nil
}
