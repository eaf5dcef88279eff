package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
	"github.com/CatarinaFranco94/workers-insurance/pkg/notary"
	"github.com/CatarinaFranco94/workers-insurance/pkg/observability"
	"github.com/CatarinaFranco94/workers-insurance/pkg/underwriting"
	"github.com/CatarinaFranco94/workers-insurance/pkg/vault"

	_ "modernc.org/sqlite"
)

var (
	insurer  = insurance.MustIdentity("O=Insurer,L=London,C=GB")
	insuree  = insurance.MustIdentity("O=Insuree,L=New York,C=US")
	stranger = insurance.MustIdentity("O=Stranger,L=Paris,C=FR")
)

type harness struct {
	engine *Engine
	vault  vault.Vault
	ledger ledger.Ledger
	notary *notary.MemoryNotary
}

// countingResponder records how often it was asked to approve.
type countingResponder struct {
	inner Responder
	calls atomic.Int32
}

func (c *countingResponder) Approve(ctx context.Context, initiator insurance.Identity, tx *SignedTransaction) (Approval, error) {
	c.calls.Add(1)
	return c.inner.Approve(ctx, initiator, tx)
}

func responder(t *testing.T, id insurance.Identity, constraint string) *PartyResponder {
	t.Helper()
	r, err := NewPartyResponder(id, constraint)
	require.NoError(t, err)
	return r
}

func newHarness(t *testing.T, v vault.Vault, l ledger.Ledger, opts ...EngineOption) *harness {
	t.Helper()
	d := NewDirectory()
	d.Register(insurer, responder(t, insurer, DefaultVersionConstraint))
	d.Register(insuree, responder(t, insuree, DefaultVersionConstraint))
	n := notary.NewMemoryNotary()
	return &harness{engine: NewEngine(v, l, n, d, opts...), vault: v, ledger: l, notary: n}
}

func memoryHarness(t *testing.T, opts ...EngineOption) *harness {
	return newHarness(t, vault.NewMemoryVault(), ledger.NewMemoryLedger(), opts...)
}

func issueInput(t *testing.T, number string) IssueInput {
	t.Helper()
	w, err := insurance.NewWorkerDetail(number, "Ana Silva", "HN-1", "ACME Builders")
	require.NoError(t, err)
	return IssueInput{Insuree: insuree, InsuredValue: 50_000, Duration: 12, Worker: w}
}

func claimInput(number string, amount int64) ClaimInput {
	return ClaimInput{
		ClaimNumber:  number,
		Description:  "fall from scaffolding",
		Amount:       amount,
		AccidentDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EpisodeDate:  time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		AccidentType: insurance.AccidentTypeWorkAccident,
		Module:       insurance.ModuleUrgency,
	}
}

func testDetail(t *testing.T) insurance.InsuranceDetail {
	t.Helper()
	d, err := insurance.NewInsuranceDetail("C-1", "CP-1", "orthopaedics")
	require.NoError(t, err)
	return d
}

func exerciseLifecycle(t *testing.T, h *harness) {
	ctx := context.Background()

	issued, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), issued.LedgerSequence)
	assert.Len(t, issued.Approvals, 2)
	assert.True(t, VerifyID(issued))

	proposed, err := h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	require.NoError(t, err)
	require.Len(t, proposed.Inputs, 1)
	assert.Equal(t, issued.ID, proposed.Inputs[0].TxID)

	accepted, err := h.engine.AcceptClaim(ctx, insurer, "P-1", "N1", testDetail(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), accepted.LedgerSequence)

	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N2", 300))
	require.NoError(t, err)
	_, err = h.engine.RejectClaim(ctx, insurer, "P-1", "N2")
	require.NoError(t, err)

	// A rejected number may be filed again.
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N2", 250))
	require.NoError(t, err)

	cur, err := h.engine.Policy(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, 5, cur.State.ClaimCount())
	assert.Equal(t, insurance.ClaimStatusAccepted, cur.State.CurrentStatus("N1"))
	assert.Equal(t, insurance.ClaimStatusProposal, cur.State.CurrentStatus("N2"))

	history, err := h.engine.History(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, history, 6)
	for _, s := range history[:5] {
		assert.True(t, s.Consumed())
	}
	assert.False(t, history[5].Consumed())

	entries, err := h.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "Issue", entries[0].Intent)
	assert.Equal(t, "AcceptClaim", entries[2].Intent)
	assert.Equal(t, contract.Version, entries[2].ContractVersion)
	require.NoError(t, h.ledger.Verify(ctx))
}

func TestEngine_LifecycleMemory(t *testing.T) {
	exerciseLifecycle(t, memoryHarness(t))
}

func TestEngine_LifecycleSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	v := vault.NewSQLVault(db)
	require.NoError(t, v.Init(ctx))
	l := ledger.NewSQLLedger(db)
	require.NoError(t, l.Init(ctx))

	exerciseLifecycle(t, newHarness(t, v, l))
}

func TestEngine_ViolationAbortsBeforeApproval(t *testing.T) {
	h := memoryHarness(t)
	counting := &countingResponder{inner: responder(t, insuree, DefaultVersionConstraint)}
	h.engine.directory.Register(insuree, counting)
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	require.NoError(t, err)
	_, err = h.engine.AcceptClaim(ctx, insurer, "P-1", "N1", testDetail(t))
	require.NoError(t, err)
	before := counting.calls.Load()

	_, err = h.engine.AcceptClaim(ctx, insurer, "P-1", "N1", testDetail(t))
	assert.ErrorIs(t, err, contract.ErrInvalidClaimAcceptance)
	_, err = h.engine.RejectClaim(ctx, insurer, "P-1", "N1")
	assert.ErrorIs(t, err, contract.ErrInvalidClaimRejection)

	assert.Equal(t, before, counting.calls.Load())
	entries, err := h.ledger.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestEngine_OpenProposalCannotBeRefiled(t *testing.T) {
	h := memoryHarness(t)
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	require.NoError(t, err)

	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	var v *contract.RuleViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, contract.KindInvalidClaimProposal, v.Kind)
	assert.Contains(t, v.Reason, "open proposal")
}

func TestEngine_Roles(t *testing.T) {
	h := memoryHarness(t)
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)

	_, err = h.engine.ProposeClaim(ctx, insurer, "P-1", claimInput("N1", 800))
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = h.engine.ProposeClaim(ctx, stranger, "P-1", claimInput("N1", 800))
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	require.NoError(t, err)
	_, err = h.engine.AcceptClaim(ctx, insuree, "P-1", "N1", testDetail(t))
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = h.engine.RejectClaim(ctx, insurer, "P-1", "N9")
	assert.ErrorIs(t, err, ErrClaimNotFound)
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-404", claimInput("N1", 800))
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestEngine_IssueTwice(t *testing.T) {
	h := memoryHarness(t)
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	_, err = h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	assert.ErrorIs(t, err, vault.ErrPolicyExists)
}

func TestEngine_MalformedInput(t *testing.T) {
	h := memoryHarness(t)
	in := issueInput(t, "P-1")
	in.Insuree = insurer

	_, err := h.engine.IssuePolicy(context.Background(), insurer, in)
	assert.ErrorIs(t, err, insurance.ErrMalformedValue)
}

func TestEngine_AcceptRequiresDetail(t *testing.T) {
	h := memoryHarness(t)
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	require.NoError(t, err)

	_, err = h.engine.AcceptClaim(ctx, insurer, "P-1", "N1", insurance.InsuranceDetail{})
	assert.ErrorIs(t, err, insurance.ErrMalformedValue)

	cur, err := h.vault.Current(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, insurance.ClaimStatusProposal, cur.State.CurrentStatus("N1"))
}

func TestEngine_UnderwritingDenial(t *testing.T) {
	h := memoryHarness(t, WithRules(underwriting.Default()))
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)

	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 60_000))
	var denial *underwriting.Denial
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, "claim-within-insured-value", denial.RuleID)

	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 30_000))
	require.NoError(t, err)
	_, err = h.engine.AcceptClaim(ctx, insurer, "P-1", "N1", testDetail(t))
	require.NoError(t, err)

	// The second acceptance would push the accepted total past the insured value.
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N2", 30_000))
	require.NoError(t, err)
	_, err = h.engine.AcceptClaim(ctx, insurer, "P-1", "N2", testDetail(t))
	assert.ErrorIs(t, err, underwriting.ErrDenied)
	_, err = h.engine.RejectClaim(ctx, insurer, "P-1", "N2")
	assert.NoError(t, err)
}

func TestEngine_CounterpartyRefusesNewerContract(t *testing.T) {
	h := memoryHarness(t)
	h.engine.directory.Register(insuree, responder(t, insuree, "^4.0.0"))

	_, err := h.engine.IssuePolicy(context.Background(), insurer, issueInput(t, "P-1"))
	assert.ErrorIs(t, err, ErrRefused)

	_, err = h.vault.Current(context.Background(), "P-1")
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestEngine_UnknownCounterparty(t *testing.T) {
	v := vault.NewMemoryVault()
	e := NewEngine(v, ledger.NewMemoryLedger(), notary.NewMemoryNotary(), NewDirectory())

	_, err := e.IssuePolicy(context.Background(), insurer, issueInput(t, "P-1"))
	assert.ErrorIs(t, err, ErrUnknownParty)
}

func TestEngine_DoubleSpendLeavesVaultUntouched(t *testing.T) {
	h := memoryHarness(t)
	ctx := context.Background()

	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	cur, err := h.vault.Current(ctx, "P-1")
	require.NoError(t, err)
	require.NoError(t, h.notary.Notarise(ctx, "sha256:elsewhere", []ledger.StateRef{cur.Ref}))

	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 800))
	var conflict *notary.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "sha256:elsewhere", conflict.ConsumedBy)

	after, err := h.vault.Current(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, cur.Ref, after.Ref)
}

func TestEngine_ConcurrentProposalsSerialise(t *testing.T) {
	h := memoryHarness(t)
	ctx := context.Background()
	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput(fmt.Sprintf("N%d", i), 100))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	cur, err := h.vault.Current(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, n, cur.State.ClaimCount())
	require.NoError(t, h.ledger.Verify(ctx))
}

func TestEngine_DeterministicIDs(t *testing.T) {
	fixed := func() string { return "nonce-1" }
	a := memoryHarness(t, WithNonce(fixed))
	b := memoryHarness(t, WithNonce(fixed))

	ta, err := a.engine.IssuePolicy(context.Background(), insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	tb, err := b.engine.IssuePolicy(context.Background(), insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	assert.Equal(t, ta.ID, tb.ID)

	c := memoryHarness(t)
	tc, err := c.engine.IssuePolicy(context.Background(), insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	assert.NotEqual(t, ta.ID, tc.ID)
}

func TestEngine_RateLimitHonoursContext(t *testing.T) {
	h := memoryHarness(t, WithRateLimit(0.001, 1))
	ctx := context.Background()
	_, err := h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestEngine_RecordsViolations(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observability.NewFlowMetrics(mp, sdktrace.NewTracerProvider())
	require.NoError(t, err)

	h := memoryHarness(t, WithMetrics(m))
	ctx := context.Background()
	_, err = h.engine.IssuePolicy(ctx, insurer, issueInput(t, "P-1"))
	require.NoError(t, err)
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 1))
	require.NoError(t, err)
	_, err = h.engine.ProposeClaim(ctx, insuree, "P-1", claimInput("N1", 1))
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), totals["workinsurance.flows.total"])
	assert.Equal(t, int64(1), totals["workinsurance.flows.failed"])
	assert.Equal(t, int64(1), totals["workinsurance.contract.violations"])
}

func TestPartyResponder_Checks(t *testing.T) {
	ctx := context.Background()
	w, err := insurance.NewWorkerDetail("P-1", "Ana Silva", "", "")
	require.NoError(t, err)
	p, err := insurance.NewPolicy(insurance.PolicyParams{InsuredValue: 10, Duration: 1, Insurer: insurer, Insuree: insuree, Worker: w})
	require.NoError(t, err)

	build := func(version string, approvals ...insurance.Identity) *SignedTransaction {
		tx := &SignedTransaction{
			Nonce:           "n",
			Intent:          contract.IntentIssue,
			ContractVersion: version,
			Outputs:         []insurance.Policy{p},
			RequiredSigners: []insurance.Identity{insurer, insuree},
		}
		for _, a := range approvals {
			tx.Approvals = append(tx.Approvals, Approval{Party: a})
		}
		id, err := computeID(tx)
		require.NoError(t, err)
		tx.ID = id
		return tx
	}

	r := responder(t, insuree, DefaultVersionConstraint)

	a, err := r.Approve(ctx, insurer, build("3.0.0", insurer))
	require.NoError(t, err)
	assert.True(t, a.Party.Equal(insuree))

	_, err = r.Approve(ctx, insurer, build("3.2.1", insurer))
	assert.NoError(t, err)

	cases := map[string]struct {
		tx        *SignedTransaction
		initiator insurance.Identity
		reason    string
	}{
		"major bump":        {build("4.0.0", insurer), insurer, "does not satisfy"},
		"bad version":       {build("three", insurer), insurer, "unreadable"},
		"no initiator sig":  {build("3.0.0"), insurer, "initiator has not approved"},
		"insuree issues":    {build("3.0.0", insuree, insurer), insuree, "only the insurer"},
		"tampered id":       {func() *SignedTransaction { tx := build("3.0.0", insurer); tx.Nonce = "x"; return tx }(), insurer, "does not match"},
		"stranger initiate": {build("3.0.0", stranger), stranger, "participants"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Approve(ctx, tc.initiator, tc.tx)
			var refusal *RefusalError
			require.True(t, errors.As(err, &refusal), "got %v", err)
			assert.ErrorIs(t, err, ErrRefused)
			assert.Contains(t, refusal.Reason, tc.reason)
		})
	}

	outsider := responder(t, stranger, DefaultVersionConstraint)
	_, err = outsider.Approve(ctx, insurer, build("3.0.0", insurer))
	assert.ErrorIs(t, err, ErrRefused)

	_, err = NewPartyResponder(insuree, "not a constraint")
	assert.Error(t, err)
}
