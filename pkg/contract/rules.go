package contract

import (
	"fmt"

	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
)

// Each check returns the reason of the first failed predicate, or "" when the
// transaction satisfies every rule of its intent. Structural predicates come first.

func checkIssue(tx Transaction) string {
	switch {
	case len(tx.Inputs) != 0:
		return "no inputs should be consumed when issuing a policy"
	case len(tx.Outputs) != 1:
		return "exactly one output policy should be created"
	}

	out := tx.Outputs[0]
	switch {
	case out.IsZero():
		return "the output policy must be well formed"
	case !tx.RequiresSigner(out.Insurer()):
		return "the insurer must be a required signer"
	case out.ClaimCount() != 0:
		return "an issued policy must not carry claims"
	}
	return ""
}

// checkTransition holds the rules shared by every claim intent: one policy in, one
// policy out, the same terms, and exactly one claim record appended to an
// unchanged history. signer is the party whose approval the intent demands.
func checkTransition(tx Transaction, signer func(insurance.Policy) insurance.Identity, role string) string {
	switch {
	case len(tx.Inputs) != 1:
		return "exactly one input policy should be consumed"
	case len(tx.Outputs) != 1:
		return "exactly one output policy should be created"
	}

	in, out := tx.Inputs[0], tx.Outputs[0]
	switch {
	case in.IsZero() || out.IsZero():
		return "input and output policies must be well formed"
	case !tx.RequiresSigner(signer(out)):
		return fmt.Sprintf("the %s must be a required signer", role)
	case out.ClaimCount() == 0:
		return "the output policy must carry claims"
	case out.ClaimCount() != in.ClaimCount()+1:
		return fmt.Sprintf("exactly one claim must be appended: input has %d claims, output has %d",
			in.ClaimCount(), out.ClaimCount())
	case !out.HasClaimPrefix(in):
		return "existing claims must be carried over unchanged"
	case !out.SameTerms(in):
		return "policy terms and participants must not change"
	}
	return ""
}

func checkAddClaim(tx Transaction) string {
	if reason := checkTransition(tx, insurance.Policy.Insuree, "insuree"); reason != "" {
		return reason
	}

	in, out := tx.Inputs[0], tx.Outputs[0]
	claim, _ := out.LastClaim()
	switch {
	case claim.Status() != insurance.ClaimStatusProposal:
		return fmt.Sprintf("the new claim must be a %s, got %s", insurance.ClaimStatusProposal, claim.Status())
	case claim.HasInsuranceDetail():
		return "a proposed claim must not carry an insurance detail"
	}

	// A number may be filed again only once its latest record was rejected.
	switch status := in.CurrentStatus(claim.ClaimNumber()); {
	case status.Terminal():
		return fmt.Sprintf("claim %s was already accepted", claim.ClaimNumber())
	case status == insurance.ClaimStatusProposal:
		return fmt.Sprintf("claim %s already has an open proposal", claim.ClaimNumber())
	}
	return ""
}

// checkDecision covers AcceptClaim and RejectClaim; outcome is the status the
// appended record must carry.
func checkDecision(tx Transaction, outcome insurance.ClaimStatus) string {
	if reason := checkTransition(tx, insurance.Policy.Insurer, "insurer"); reason != "" {
		return reason
	}

	in, out := tx.Inputs[0], tx.Outputs[0]
	claim, _ := out.LastClaim()
	if claim.Status() != outcome {
		return fmt.Sprintf("the output claim must be %s, got %s", outcome, claim.Status())
	}
	if outcome == insurance.ClaimStatusAccepted && !claim.HasInsuranceDetail() {
		return "an accepted claim must carry an insurance detail"
	}
	if outcome == insurance.ClaimStatusRejected && claim.HasInsuranceDetail() {
		return "a rejected claim must not carry an insurance detail"
	}

	if in.ClaimCount() == 0 {
		return "the input policy must carry claims"
	}
	prior, ok := in.LatestClaim(claim.ClaimNumber())
	switch {
	case !ok:
		return fmt.Sprintf("claim %s was never proposed", claim.ClaimNumber())
	case prior.Status() != insurance.ClaimStatusProposal:
		return fmt.Sprintf("claim %s must be a %s to be decided, got %s",
			claim.ClaimNumber(), insurance.ClaimStatusProposal, prior.Status())
	case prior.HasInsuranceDetail():
		return fmt.Sprintf("proposal for claim %s must not carry an insurance detail", claim.ClaimNumber())
	}
	return ""
}
