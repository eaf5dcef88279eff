// Package vault tracks policy states produced by committed transactions and which
// of them have been consumed.
package vault

import (
	"context"
	"errors"

	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
)

var (
	ErrNotFound = errors.New("vault: policy state not found")
	// ErrConsumed is returned when a transaction tries to consume a state that is
	// unknown or already spent.
	ErrConsumed = errors.New("vault: state already consumed or unknown")
	// ErrPolicyExists is returned when an output would leave two unconsumed states
	// for the same policy number.
	ErrPolicyExists = errors.New("vault: policy number already has a current state")
)

// StateAndRef pairs a policy version with the transaction output that produced it.
type StateAndRef struct {
	Ref        ledger.StateRef  `json:"ref"`
	State      insurance.Policy `json:"state"`
	ConsumedBy string           `json:"consumed_by,omitempty"`
}

// Consumed reports whether a later transaction spent this state.
func (s StateAndRef) Consumed() bool { return s.ConsumedBy != "" }

// Vault is implemented by MemoryVault and SQLVault.
type Vault interface {
	// Record marks consumed as spent by txID and stores outputs as its new states,
	// all or nothing.
	Record(ctx context.Context, txID string, consumed []ledger.StateRef, outputs []insurance.Policy) ([]StateAndRef, error)
	// Current returns the unconsumed state of a policy.
	Current(ctx context.Context, policyNumber string) (StateAndRef, error)
	// History returns every recorded version of a policy, oldest first.
	History(ctx context.Context, policyNumber string) ([]StateAndRef, error)
	Get(ctx context.Context, ref ledger.StateRef) (StateAndRef, error)
}
