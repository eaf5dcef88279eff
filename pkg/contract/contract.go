// Package contract is the transaction validator of the workplace-insurance ledger.
//
// Validate is a pure function: it performs no I/O, reads no clock and keeps no
// state between calls, so it may be called concurrently on independent
// transactions. A transaction it rejects must never be signed or submitted.
package contract

import (
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
)

// Version identifies the rule set implemented by Validate. Counterparties compare it
// against their own compatibility constraint before approving a transaction.
const Version = "3.0.0"

// Transaction is a candidate state change presented for validation.
type Transaction struct {
	Inputs          []insurance.Policy
	Outputs         []insurance.Policy
	Intents         []Intent
	RequiredSigners []insurance.Identity
}

// RequiresSigner reports whether id is among the required signers.
func (tx Transaction) RequiresSigner(id insurance.Identity) bool {
	return insurance.ContainsIdentity(tx.RequiredSigners, id)
}

// Validate classifies tx by its declared intent and runs the matching rule set.
// It returns nil or a *RuleViolation naming the first predicate that failed.
func Validate(tx Transaction) error {
	if len(tx.Intents) != 1 {
		return &RuleViolation{
			Kind:   KindIntentCardinality,
			Reason: "exactly one intent must be declared",
		}
	}

	intent := tx.Intents[0]
	var reason string
	switch intent {
	case IntentIssue:
		reason = checkIssue(tx)
	case IntentAddClaim:
		reason = checkAddClaim(tx)
	case IntentAcceptClaim:
		reason = checkDecision(tx, insurance.ClaimStatusAccepted)
	case IntentRejectClaim:
		reason = checkDecision(tx, insurance.ClaimStatusRejected)
	default:
		return &RuleViolation{
			Kind:   KindIntentCardinality,
			Intent: intent,
			Reason: "unrecognised intent " + intent.String(),
		}
	}

	if reason == "" {
		return nil
	}
	return &RuleViolation{Kind: kindFor(intent), Intent: intent, Reason: reason}
}
