package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
	"github.com/CatarinaFranco94/workers-insurance/pkg/vault"
)

// IssueInput carries the terms of a new policy.
type IssueInput struct {
	Insuree      insurance.Identity
	InsuredValue uint64
	Duration     uint32
	Worker       insurance.WorkerDetail
}

// ClaimInput carries the data of a proposed claim.
type ClaimInput struct {
	ClaimNumber      string
	Description      string
	Amount           int64
	InternalPolicyNo string
	AccidentDate     time.Time
	EpisodeDate      time.Time
	AccidentType     insurance.AccidentType
	Module           insurance.Module
}

// IssuePolicy issues a new policy from insurer to in.Insuree.
func (e *Engine) IssuePolicy(ctx context.Context, insurer insurance.Identity, in IssueInput) (_ *SignedTransaction, err error) {
	number := in.Worker.PolicyNumber()
	ctx, done := e.track(ctx, "issue", number)
	defer func() { done(err) }()

	policy, err := insurance.NewPolicy(insurance.PolicyParams{
		InsuredValue: in.InsuredValue,
		Duration:     in.Duration,
		Insurer:      insurer,
		Insuree:      in.Insuree,
		Worker:       in.Worker,
	})
	if err != nil {
		return nil, err
	}

	unlock := e.lock(number)
	defer unlock()

	if _, err := e.vault.Current(ctx, number); err == nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrPolicyExists, number)
	} else if !errors.Is(err, vault.ErrNotFound) {
		return nil, err
	}

	tx := &SignedTransaction{
		Intent:          contract.IntentIssue,
		Outputs:         []insurance.Policy{policy},
		RequiredSigners: []insurance.Identity{insurer, in.Insuree},
	}
	if err := e.commit(ctx, insurer, tx, nil); err != nil {
		return nil, err
	}
	return tx, nil
}

// ProposeClaim appends a claim proposal filed by the insuree.
func (e *Engine) ProposeClaim(ctx context.Context, insuree insurance.Identity, policyNumber string, in ClaimInput) (_ *SignedTransaction, err error) {
	ctx, done := e.track(ctx, "propose_claim", policyNumber)
	defer func() { done(err) }()

	unlock := e.lock(policyNumber)
	defer unlock()

	cur, err := e.vault.Current(ctx, policyNumber)
	if err != nil {
		return nil, err
	}
	if !cur.State.Insuree().Equal(insuree) {
		return nil, fmt.Errorf("%w: only the insuree of %s may propose a claim", ErrNotParticipant, policyNumber)
	}

	claim, err := insurance.NewClaim(insurance.ClaimParams{
		ClaimNumber:      in.ClaimNumber,
		Description:      in.Description,
		Amount:           in.Amount,
		Status:           insurance.ClaimStatusProposal,
		InternalPolicyNo: in.InternalPolicyNo,
		AccidentDate:     in.AccidentDate,
		EpisodeDate:      in.EpisodeDate,
		AccidentType:     in.AccidentType,
		Module:           in.Module,
		Proposer:         insuree,
		Proposee:         cur.State.Insurer(),
	})
	if err != nil {
		return nil, err
	}

	tx := transition(cur, contract.IntentAddClaim, claim)
	if err := e.commit(ctx, insuree, tx, &claim); err != nil {
		return nil, err
	}
	return tx, nil
}

// AcceptClaim records the insurer's acceptance of the open proposal for claimNumber.
func (e *Engine) AcceptClaim(ctx context.Context, insurer insurance.Identity, policyNumber, claimNumber string, detail insurance.InsuranceDetail) (*SignedTransaction, error) {
	if detail.InsuranceCompanyNumber() == "" {
		return nil, &insurance.FieldError{Type: "insurance_detail", Field: "insurance_company_number", Reason: "must not be empty"}
	}
	return e.decide(ctx, "accept_claim", insurer, policyNumber, claimNumber, insurance.ClaimStatusAccepted, &detail)
}

// RejectClaim records the insurer's rejection of the open proposal for claimNumber.
func (e *Engine) RejectClaim(ctx context.Context, insurer insurance.Identity, policyNumber, claimNumber string) (*SignedTransaction, error) {
	return e.decide(ctx, "reject_claim", insurer, policyNumber, claimNumber, insurance.ClaimStatusRejected, nil)
}

func (e *Engine) decide(ctx context.Context, flow string, insurer insurance.Identity, policyNumber, claimNumber string,
	status insurance.ClaimStatus, detail *insurance.InsuranceDetail) (_ *SignedTransaction, err error) {
	ctx, done := e.track(ctx, flow, policyNumber)
	defer func() { done(err) }()

	unlock := e.lock(policyNumber)
	defer unlock()

	cur, err := e.vault.Current(ctx, policyNumber)
	if err != nil {
		return nil, err
	}
	if !cur.State.Insurer().Equal(insurer) {
		return nil, fmt.Errorf("%w: only the insurer of %s may decide a claim", ErrNotParticipant, policyNumber)
	}
	prior, ok := cur.State.LatestClaim(claimNumber)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrClaimNotFound, claimNumber, policyNumber)
	}
	claim, err := prior.Successor(status, detail, insurer, cur.State.Insuree())
	if err != nil {
		return nil, err
	}

	intent := contract.IntentAcceptClaim
	if status == insurance.ClaimStatusRejected {
		intent = contract.IntentRejectClaim
	}
	tx := transition(cur, intent, claim)
	if err := e.commit(ctx, insurer, tx, &claim); err != nil {
		return nil, err
	}
	return tx, nil
}

// transition builds the transaction that consumes cur and appends claim.
func transition(cur vault.StateAndRef, intent contract.Intent, claim insurance.Claim) *SignedTransaction {
	p := cur.State
	return &SignedTransaction{
		Intent:          intent,
		Inputs:          []ledger.StateRef{cur.Ref},
		InputStates:     []insurance.Policy{p},
		Outputs:         []insurance.Policy{p.WithClaim(claim)},
		RequiredSigners: []insurance.Identity{p.Insurer(), p.Insuree()},
	}
}

// Policy returns the current state of a policy.
func (e *Engine) Policy(ctx context.Context, policyNumber string) (vault.StateAndRef, error) {
	return e.vault.Current(ctx, policyNumber)
}

// History returns every version of a policy, oldest first.
func (e *Engine) History(ctx context.Context, policyNumber string) ([]vault.StateAndRef, error) {
	return e.vault.History(ctx, policyNumber)
}
