// Package workflow runs the four policy flows: it builds each transaction,
// checks it against the contract and the underwriting rules, collects the
// approval of the counterparty and commits it through the notary, the vault and
// the ledger.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
	"github.com/CatarinaFranco94/workers-insurance/pkg/notary"
	"github.com/CatarinaFranco94/workers-insurance/pkg/observability"
	"github.com/CatarinaFranco94/workers-insurance/pkg/underwriting"
	"github.com/CatarinaFranco94/workers-insurance/pkg/vault"
)

var (
	// ErrNotParticipant is returned when the initiator is not the party the flow
	// must be started by.
	ErrNotParticipant = errors.New("workflow: initiator may not start this flow")
	ErrClaimNotFound  = errors.New("workflow: claim not found on policy")
	ErrUnknownParty   = errors.New("workflow: no responder registered for party")
)

// Engine commits policy transactions. It is safe for concurrent use; flows on the
// same policy number are serialised.
type Engine struct {
	vault     vault.Vault
	ledger    ledger.Ledger
	notary    notary.Notary
	directory *Directory

	rules   *underwriting.Rules
	clock   func() time.Time
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.FlowMetrics
	nonce   func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRules sets the underwriting rules checked before approvals are collected.
func WithRules(r *underwriting.Rules) EngineOption {
	return func(e *Engine) { e.rules = r }
}

func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithRateLimit bounds the rate of submissions. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) EngineOption {
	return func(e *Engine) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *observability.FlowMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithNonce replaces the uuid nonce source.
func WithNonce(nonce func() string) EngineOption {
	return func(e *Engine) { e.nonce = nonce }
}

func NewEngine(v vault.Vault, l ledger.Ledger, n notary.Notary, d *Directory, opts ...EngineOption) *Engine {
	e := &Engine{
		vault:     v,
		ledger:    l,
		notary:    n,
		directory: d,
		clock:     time.Now,
		logger:    slog.Default().With("component", "workflow"),
		nonce:     func() string { return uuid.New().String() },
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		if m, err := observability.NewFlowMetrics(nil, nil); err == nil {
			e.metrics = m
		}
	}
	return e
}

// lock serialises flows on one policy number.
func (e *Engine) lock(policyNumber string) func() {
	e.mu.Lock()
	m, ok := e.locks[policyNumber]
	if !ok {
		m = &sync.Mutex{}
		e.locks[policyNumber] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e *Engine) track(ctx context.Context, flow, policyNumber string) (context.Context, func(error)) {
	if e.metrics == nil {
		return ctx, func(error) {}
	}
	return e.metrics.TrackFlow(ctx, flow, attribute.String("policy.number", policyNumber))
}

type ledgerPayload struct {
	PolicyNumber string             `json:"policy_number"`
	Outputs      []insurance.Policy `json:"outputs"`
	Approvals    []Approval         `json:"approvals"`
}

// commit drives tx to finality: contract, underwriting, counterparty approval,
// notary, vault, ledger. subject is the claim record the transaction appends, nil
// for an issue.
func (e *Engine) commit(ctx context.Context, initiator insurance.Identity, tx *SignedTransaction, subject *insurance.Claim) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("workflow: submission throttled: %w", err)
		}
	}

	tx.ContractVersion = contract.Version
	tx.Nonce = e.nonce()
	id, err := computeID(tx)
	if err != nil {
		return fmt.Errorf("workflow: hash transaction: %w", err)
	}
	tx.ID = id
	log := e.logger.With("tx_id", tx.ID, "intent", tx.Intent.String(), "policy", tx.Outputs[0].PolicyNumber())

	if err := contract.Validate(tx.Contract()); err != nil {
		var v *contract.RuleViolation
		if errors.As(err, &v) {
			log.WarnContext(ctx, "transaction rejected by contract", "kind", string(v.Kind), "reason", v.Reason)
			if e.metrics != nil {
				e.metrics.RecordViolation(ctx, string(v.Kind))
			}
		}
		return err
	}

	if e.rules != nil {
		// Claim rules see the policy as it stood before the transition.
		policy := tx.Outputs[0]
		if len(tx.InputStates) > 0 {
			policy = tx.InputStates[0]
		}
		if err := e.rules.Check(tx.Intent, policy, subject); err != nil {
			log.WarnContext(ctx, "transaction denied by underwriting", "error", err)
			return err
		}
	}

	tx.Approvals = []Approval{{Party: initiator, ApprovedAt: e.clock().UTC()}}
	for _, signer := range tx.RequiredSigners {
		if signer.Equal(initiator) {
			continue
		}
		r, ok := e.directory.Lookup(signer)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParty, signer)
		}
		a, err := r.Approve(ctx, initiator, tx)
		if err != nil {
			log.WarnContext(ctx, "counterparty did not approve", "party", signer.Name(), "error", err)
			return err
		}
		tx.Approvals = append(tx.Approvals, a)
	}

	if len(tx.Inputs) > 0 {
		if err := e.notary.Notarise(ctx, tx.ID, tx.Inputs); err != nil {
			log.WarnContext(ctx, "notarisation failed", "error", err)
			return err
		}
	}

	if _, err := e.vault.Record(ctx, tx.ID, tx.Inputs, tx.Outputs); err != nil {
		log.ErrorContext(ctx, "notarised transaction not recorded in vault", "error", err)
		return fmt.Errorf("workflow: record states: %w", err)
	}

	payload, err := json.Marshal(ledgerPayload{
		PolicyNumber: tx.Outputs[0].PolicyNumber(),
		Outputs:      tx.Outputs,
		Approvals:    tx.Approvals,
	})
	if err != nil {
		return fmt.Errorf("workflow: encode ledger payload: %w", err)
	}
	signers := make([]string, len(tx.RequiredSigners))
	for i, s := range tx.RequiredSigners {
		signers[i] = s.Name()
	}
	entry, err := e.ledger.Append(ctx, ledger.Entry{
		TxID:            tx.ID,
		Intent:          tx.Intent.String(),
		ContractVersion: tx.ContractVersion,
		Inputs:          tx.Inputs,
		Signers:         signers,
		Payload:         payload,
	})
	if err != nil {
		log.ErrorContext(ctx, "recorded transaction not appended to ledger", "error", err)
		return fmt.Errorf("workflow: append ledger: %w", err)
	}
	tx.LedgerSequence = entry.Sequence

	log.InfoContext(ctx, "transaction committed", "sequence", entry.Sequence)
	return nil
}
