package contract

import "fmt"

// ViolationKind classifies a rejected transaction.
type ViolationKind string

const (
	KindIntentCardinality      ViolationKind = "IntentCardinality"
	KindInvalidIssue           ViolationKind = "InvalidIssue"
	KindInvalidClaimProposal   ViolationKind = "InvalidClaimProposal"
	KindInvalidClaimAcceptance ViolationKind = "InvalidClaimAcceptance"
	KindInvalidClaimRejection  ViolationKind = "InvalidClaimRejection"
)

// RuleViolation is the structured rejection returned by Validate. Reason names the
// predicate that failed and is meant to be shown to the initiating caller verbatim.
type RuleViolation struct {
	Kind   ViolationKind
	Intent Intent
	Reason string
}

func (v *RuleViolation) Error() string {
	if v.Reason == "" {
		return string(v.Kind)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Reason)
}

// Is matches on Kind, so errors.Is(err, ErrInvalidIssue) holds for every issue
// violation regardless of reason. A target carrying a reason must match it too.
func (v *RuleViolation) Is(target error) bool {
	t, ok := target.(*RuleViolation)
	if !ok {
		return false
	}
	if t.Kind != v.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == v.Reason
}

// Sentinels for errors.Is.
var (
	ErrIntentCardinality      = &RuleViolation{Kind: KindIntentCardinality}
	ErrInvalidIssue           = &RuleViolation{Kind: KindInvalidIssue}
	ErrInvalidClaimProposal   = &RuleViolation{Kind: KindInvalidClaimProposal}
	ErrInvalidClaimAcceptance = &RuleViolation{Kind: KindInvalidClaimAcceptance}
	ErrInvalidClaimRejection  = &RuleViolation{Kind: KindInvalidClaimRejection}
)

func kindFor(intent Intent) ViolationKind {
	switch intent {
	case IntentIssue:
		return KindInvalidIssue
	case IntentAddClaim:
		return KindInvalidClaimProposal
	case IntentAcceptClaim:
		return KindInvalidClaimAcceptance
	case IntentRejectClaim:
		return KindInvalidClaimRejection
	}
	return KindIntentCardinality
}
