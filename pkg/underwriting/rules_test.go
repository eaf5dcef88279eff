package underwriting

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
)

var (
	insurer = insurance.MustIdentity("O=Insurer,L=London,C=GB")
	insuree = insurance.MustIdentity("O=Insuree,L=New York,C=US")
)

func testPolicy(t *testing.T, insured uint64, claims ...insurance.Claim) insurance.Policy {
	t.Helper()
	worker, err := insurance.NewWorkerDetail("P-1", "Ana", "", "")
	require.NoError(t, err)
	p, err := insurance.NewPolicy(insurance.PolicyParams{
		InsuredValue: insured, Duration: 12, Insurer: insurer, Insuree: insuree, Worker: worker, Claims: claims,
	})
	require.NoError(t, err)
	return p
}

func testClaim(t *testing.T, number string, amount int64, status insurance.ClaimStatus) insurance.Claim {
	t.Helper()
	p := insurance.ClaimParams{
		ClaimNumber:  number,
		Amount:       amount,
		Status:       status,
		AccidentDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		EpisodeDate:  time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
		Proposer:     insuree,
		Proposee:     insurer,
	}
	if status == insurance.ClaimStatusAccepted {
		d, err := insurance.NewInsuranceDetail("C", "CP", "")
		require.NoError(t, err)
		p.InsuranceDetail = &d
	}
	c, err := insurance.NewClaim(p)
	require.NoError(t, err)
	return c
}

func TestDefaultProfile(t *testing.T) {
	rules := Default()
	assert.Equal(t, "default", rules.Name())
	assert.Equal(t, 4, rules.Len())

	p := testPolicy(t, 1000)
	require.NoError(t, rules.Check(contract.IntentIssue, p, nil))

	small := testClaim(t, "N1", 900, insurance.ClaimStatusProposal)
	require.NoError(t, rules.Check(contract.IntentAddClaim, p, &small))

	big := testClaim(t, "N1", 1001, insurance.ClaimStatusProposal)
	err := rules.Check(contract.IntentAddClaim, p, &big)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)
	var d *Denial
	require.True(t, errors.As(err, &d))
	assert.Equal(t, "claim-within-insured-value", d.RuleID)

	// Accepting a second claim may not push the accepted total past the insured value.
	first := testClaim(t, "N1", 600, insurance.ClaimStatusAccepted)
	second := testClaim(t, "N2", 600, insurance.ClaimStatusProposal)
	history := testPolicy(t, 1000, first, second)
	accept := testClaim(t, "N2", 600, insurance.ClaimStatusAccepted)
	err = rules.Check(contract.IntentAcceptClaim, history, &accept)
	require.True(t, errors.As(err, &d))
	assert.Equal(t, "accepted-total-within-insured-value", d.RuleID)

	// Rejections are unconstrained by the default profile.
	reject := testClaim(t, "N2", 600, insurance.ClaimStatusRejected)
	assert.NoError(t, rules.Check(contract.IntentRejectClaim, history, &reject))
}

func TestEpisodeBeforeAccidentDenied(t *testing.T) {
	p := testClaim(t, "N1", 10, insurance.ClaimStatusProposal).Params()
	p.EpisodeDate = p.AccidentDate.Add(-24 * time.Hour)
	c, err := insurance.NewClaim(p)
	require.NoError(t, err)

	err = Default().Check(contract.IntentAddClaim, testPolicy(t, 1000), &c)
	var d *Denial
	require.True(t, errors.As(err, &d))
	assert.Equal(t, "episode-not-before-accident", d.RuleID)
}

func TestCompile_RejectsNonDeterministic(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want string
	}{
		{"float literal", "claim.amount < 1.5", "floating point"},
		{"clock", "now() > timestamp('2023-01-01T00:00:00Z')", "now()"},
		{"map keys", "policy.keys().size() > 0", "map iteration"},
		{"double conversion", "double(claim.amount) < double(policy.insured_value)", "double()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(&Profile{Rules: []RuleSpec{{ID: "r", Expr: tt.expr}}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(&Profile{Rules: []RuleSpec{{Expr: "true"}}})
	assert.Error(t, err)

	_, err = Compile(&Profile{Rules: []RuleSpec{{ID: "a", Expr: "true"}, {ID: "a", Expr: "true"}}})
	assert.Error(t, err)

	_, err = Compile(&Profile{Rules: []RuleSpec{{ID: "syntax", Expr: "claim.amount <"}}})
	assert.Error(t, err)

	_, err = Compile(&Profile{Rules: []RuleSpec{{ID: "type", Expr: "1 + 2"}}})
	assert.Error(t, err)

	_, err = Compile(&Profile{Rules: []RuleSpec{{ID: "intent", Expr: "true", Intents: []string{"Cancel"}}}})
	assert.Error(t, err)
}

func TestCheck_MissingKeyDenies(t *testing.T) {
	rules, err := Compile(&Profile{Rules: []RuleSpec{{ID: "missing", Expr: "claim.nope == 1"}}})
	require.NoError(t, err)
	err = rules.Check(contract.IntentIssue, testPolicy(t, 1), nil)
	var d *Denial
	require.True(t, errors.As(err, &d))
	assert.Contains(t, d.Message, "evaluation failed")
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: strict
rules:
  - id: small-claims-only
    expr: claim.amount <= 100
    message: only small claims
    intents: [AddClaim]
`), 0o600))

	rules, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", rules.Name())

	c := testClaim(t, "N1", 101, insurance.ClaimStatusProposal)
	assert.ErrorIs(t, rules.Check(contract.IntentAddClaim, testPolicy(t, 1000), &c), ErrDenied)
	assert.NoError(t, rules.Check(contract.IntentAcceptClaim, testPolicy(t, 1000), &c))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
