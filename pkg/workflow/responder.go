package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
)

// ErrRefused is matched by every *RefusalError.
var ErrRefused = errors.New("workflow: counterparty refused")

// RefusalError is returned when a counterparty declines to approve.
type RefusalError struct {
	Party  insurance.Identity
	Reason string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("%s refused the transaction: %s", e.Party, e.Reason)
}

func (e *RefusalError) Unwrap() error { return ErrRefused }

// Responder is the counterparty side of a flow: it inspects a proposed
// transaction and approves it or returns an error.
type Responder interface {
	Approve(ctx context.Context, initiator insurance.Identity, tx *SignedTransaction) (Approval, error)
}

// DefaultVersionConstraint accepts any contract within the current major version.
const DefaultVersionConstraint = "^3.0.0"

// PartyResponder approves transactions on behalf of one participant.
type PartyResponder struct {
	self       insurance.Identity
	constraint *semver.Constraints
	clock      func() time.Time
}

// NewPartyResponder builds a responder for self accepting contract versions that
// satisfy constraint.
func NewPartyResponder(self insurance.Identity, constraint string) (*PartyResponder, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("workflow: invalid version constraint %q: %w", constraint, err)
	}
	return &PartyResponder{self: self, constraint: c, clock: time.Now}, nil
}

// WithClock overrides clock for testing.
func (r *PartyResponder) WithClock(clock func() time.Time) *PartyResponder {
	r.clock = clock
	return r
}

func (r *PartyResponder) Self() insurance.Identity { return r.self }

func (r *PartyResponder) Approve(_ context.Context, initiator insurance.Identity, tx *SignedTransaction) (Approval, error) {
	if reason := r.check(initiator, tx); reason != "" {
		return Approval{}, &RefusalError{Party: r.self, Reason: reason}
	}
	return Approval{Party: r.self, ApprovedAt: r.clock().UTC()}, nil
}

func (r *PartyResponder) check(initiator insurance.Identity, tx *SignedTransaction) string {
	if !VerifyID(tx) {
		return "transaction id does not match its content"
	}
	if !insurance.ContainsIdentity(tx.RequiredSigners, r.self) {
		return "not a required signer"
	}
	if !tx.ApprovedBy(initiator) {
		return "initiator has not approved"
	}

	v, err := semver.NewVersion(tx.ContractVersion)
	if err != nil {
		return fmt.Sprintf("unreadable contract version %q", tx.ContractVersion)
	}
	if !r.constraint.Check(v) {
		return fmt.Sprintf("contract version %s does not satisfy %s", v, r.constraint)
	}

	if err := contract.Validate(tx.Contract()); err != nil {
		return err.Error()
	}

	out := tx.Outputs[0]
	if !out.IsParticipant(r.self) || !out.IsParticipant(initiator) {
		return "both parties must be participants of the policy"
	}

	last, _ := out.LastClaim()
	switch tx.Intent {
	case contract.IntentIssue:
		if !out.Insurer().Equal(initiator) {
			return "only the insurer may issue a policy"
		}
	case contract.IntentAddClaim:
		if !out.Insuree().Equal(initiator) {
			return "only the insuree may propose a claim"
		}
		if last.Status() != insurance.ClaimStatusProposal {
			return "the new claim is not a proposal"
		}
	case contract.IntentAcceptClaim, contract.IntentRejectClaim:
		if !out.Insurer().Equal(initiator) {
			return "only the insurer may decide a claim"
		}
		want := insurance.ClaimStatusAccepted
		if tx.Intent == contract.IntentRejectClaim {
			want = insurance.ClaimStatusRejected
		}
		if last.Status() != want {
			return fmt.Sprintf("the decided claim is not %s", want)
		}
	}
	return ""
}

// Directory maps participants to their responders.
type Directory struct {
	mu         sync.RWMutex
	responders map[string]Responder
}

func NewDirectory() *Directory {
	return &Directory{responders: make(map[string]Responder)}
}

// Register binds id to r, replacing any earlier binding.
func (d *Directory) Register(id insurance.Identity, r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responders[id.Key()] = r
}

func (d *Directory) Lookup(id insurance.Identity) (Responder, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.responders[id.Key()]
	return r, ok
}
