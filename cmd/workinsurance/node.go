package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite"

	"github.com/CatarinaFranco94/workers-insurance/pkg/config"
	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
	"github.com/CatarinaFranco94/workers-insurance/pkg/notary"
	"github.com/CatarinaFranco94/workers-insurance/pkg/observability"
	"github.com/CatarinaFranco94/workers-insurance/pkg/requests"
	"github.com/CatarinaFranco94/workers-insurance/pkg/underwriting"
	"github.com/CatarinaFranco94/workers-insurance/pkg/vault"
	"github.com/CatarinaFranco94/workers-insurance/pkg/workflow"
)

// node wires the stores, notary and engine of one process.
type node struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	vault     *vault.SQLVault
	ledger    *ledger.SQLLedger
	directory *workflow.Directory
	engine    *workflow.Engine
	closers   []func() error
}

func openNode(ctx context.Context, cfg *config.Config, stderr io.Writer) (*node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &node{
		cfg:       cfg,
		logger:    observability.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat),
		directory: workflow.NewDirectory(),
	}

	ocfg := observability.DefaultConfig()
	ocfg.Enabled = cfg.OTelEnabled
	ocfg.OTLPEndpoint = cfg.OTelEndpoint
	ocfg.Insecure = cfg.OTelInsecure
	otel, err := observability.New(ctx, ocfg)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, func() error { return otel.Shutdown(context.Background()) })

	db, err := sql.Open(cfg.SQLDriverName(), cfg.DatabaseURL)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	n.db = db
	n.closers = append(n.closers, db.Close)

	n.vault = vault.NewSQLVault(db)
	n.ledger = ledger.NewSQLLedger(db)
	if err := n.vault.Init(ctx); err != nil {
		n.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}
	if err := n.ledger.Init(ctx); err != nil {
		n.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	var nt notary.Notary = notary.NewMemoryNotary()
	if cfg.RedisAddr != "" {
		rn := notary.NewRedisNotary(cfg.RedisAddr, cfg.RedisPassword, 0)
		if err := rn.Ping(ctx); err != nil {
			_ = rn.Close()
			n.Close()
			return nil, fmt.Errorf("connect notary: %w", err)
		}
		n.closers = append(n.closers, rn.Close)
		nt = rn
	}

	rules := underwriting.Default()
	if cfg.RulesPath != "" {
		if rules, err = underwriting.Load(cfg.RulesPath); err != nil {
			n.Close()
			return nil, err
		}
	}

	metrics, err := observability.NewFlowMetrics(nil, nil)
	if err != nil {
		n.Close()
		return nil, err
	}

	n.engine = workflow.NewEngine(n.vault, n.ledger, nt, n.directory,
		workflow.WithRules(rules),
		workflow.WithRateLimit(cfg.SubmitRPS, cfg.SubmitBurst),
		workflow.WithLogger(n.logger.With("component", "workflow")),
		workflow.WithMetrics(metrics),
	)
	return n, nil
}

// Close releases resources in reverse order of acquisition.
func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			n.logger.Warn("close failed", "error", err)
		}
	}
	n.closers = nil
}

// trust registers local responders for the given parties. Both sides of a policy
// run in this process, so each approves with its own checks.
func (n *node) trust(parties ...insurance.Identity) error {
	for _, p := range parties {
		r, err := workflow.NewPartyResponder(p, workflow.DefaultVersionConstraint)
		if err != nil {
			return err
		}
		n.directory.Register(p, r)
	}
	return nil
}

func readRequest(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("--request is required")
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path) //nolint:gosec // operator supplied path
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// refused reports whether err is an answer to the request rather than a failure
// to process it.
func refused(err error) bool {
	var violation *contract.RuleViolation
	return errors.As(err, &violation) ||
		errors.Is(err, underwriting.ErrDenied) ||
		errors.Is(err, workflow.ErrRefused) ||
		errors.Is(err, workflow.ErrNotParticipant) ||
		errors.Is(err, workflow.ErrClaimNotFound) ||
		errors.Is(err, notary.ErrDoubleSpend) ||
		errors.Is(err, ledger.ErrChainBroken) ||
		errors.Is(err, vault.ErrNotFound) ||
		errors.Is(err, vault.ErrPolicyExists) ||
		errors.Is(err, requests.ErrInvalidRequest) ||
		errors.Is(err, insurance.ErrMalformedValue)
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	if refused(err) {
		return 1
	}
	return 2
}
