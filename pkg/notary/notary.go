// Package notary guarantees that every committed state is consumed at most once.
package notary

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
)

var ErrDoubleSpend = errors.New("notary: input already consumed")

// ConflictError names the input that another transaction already consumed.
type ConflictError struct {
	Input      ledger.StateRef
	ConsumedBy string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("notary: input %s already consumed by %s", e.Input, e.ConsumedBy)
}

func (e *ConflictError) Unwrap() error { return ErrDoubleSpend }

// Notary commits the consumption of a transaction's inputs. Either every input
// is recorded against txID or none is. Notarising the same transaction twice
// succeeds.
type Notary interface {
	Notarise(ctx context.Context, txID string, inputs []ledger.StateRef) error
}

// MemoryNotary serves a single node.
type MemoryNotary struct {
	mu       sync.Mutex
	consumed map[ledger.StateRef]string
}

func NewMemoryNotary() *MemoryNotary {
	return &MemoryNotary{consumed: make(map[ledger.StateRef]string)}
}

func (n *MemoryNotary) Notarise(_ context.Context, txID string, inputs []ledger.StateRef) error {
	if txID == "" {
		return errors.New("notary: empty transaction id")
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, in := range inputs {
		if by, ok := n.consumed[in]; ok && by != txID {
			return &ConflictError{Input: in, ConsumedBy: by}
		}
	}
	for _, in := range inputs {
		n.consumed[in] = txID
	}
	return nil
}

// ConsumedBy returns the transaction that consumed ref, if any.
func (n *MemoryNotary) ConsumedBy(ref ledger.StateRef) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	by, ok := n.consumed[ref]
	return by, ok
}
