package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/CatarinaFranco94/workers-insurance/pkg/config"
	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/workflow"
)

// runDemoCmd drives one policy through every flow, including a decision the
// contract refuses, against a scratch SQLite database.
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	db := cmd.String("db", ":memory:", "SQLite database to run the demo against")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	cfg.DBDriver = "sqlite"
	cfg.DatabaseURL = *db
	cfg.RedisAddr = ""
	cfg.SubmitRPS = 0

	ctx := context.Background()
	n, err := openNode(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer n.Close()

	if err := demo(ctx, n, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func demo(ctx context.Context, n *node, w io.Writer) error {
	insurer, err := insurance.NewIdentity("O=Seguradora Lusitana,L=Lisboa,C=PT")
	if err != nil {
		return err
	}
	insuree, err := insurance.NewIdentity("O=Construcoes Norte,L=Porto,C=PT")
	if err != nil {
		return err
	}
	if err := n.trust(insurer, insuree); err != nil {
		return err
	}

	worker, err := insurance.NewWorkerDetail("DEMO-001", "Joao Pereira", "SNS-123456789", "Construcoes Norte")
	if err != nil {
		return err
	}
	step := func(what string, tx *workflow.SignedTransaction) {
		fmt.Fprintf(w, "%s%-28s%s seq=%d tx=%s\n", colorGreen, what, colorReset, tx.LedgerSequence, tx.ID)
	}

	tx, err := n.engine.IssuePolicy(ctx, insurer, workflow.IssueInput{
		Insuree:      insuree,
		InsuredValue: 25_000_00,
		Duration:     12,
		Worker:       worker,
	})
	if err != nil {
		return err
	}
	step("policy issued", tx)

	accident := time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC)
	for _, c := range []struct {
		number string
		amount int64
	}{{"SIN-1", 1_200_00}, {"SIN-2", 40_000}} {
		tx, err = n.engine.ProposeClaim(ctx, insuree, worker.PolicyNumber(), workflow.ClaimInput{
			ClaimNumber:  c.number,
			Description:  "fracture after fall on site",
			Amount:       c.amount,
			AccidentDate: accident,
			EpisodeDate:  accident.AddDate(0, 0, 1),
			AccidentType: insurance.AccidentTypeWorkAccident,
			Module:       insurance.ModuleUrgency,
		})
		if err != nil {
			return err
		}
		step("claim "+c.number+" proposed", tx)
	}

	detail, err := insurance.NewInsuranceDetail("SL-01", "SL-01-2024-77", "orthopaedics")
	if err != nil {
		return err
	}
	if tx, err = n.engine.AcceptClaim(ctx, insurer, worker.PolicyNumber(), "SIN-1", detail); err != nil {
		return err
	}
	step("claim SIN-1 accepted", tx)
	if tx, err = n.engine.RejectClaim(ctx, insurer, worker.PolicyNumber(), "SIN-2"); err != nil {
		return err
	}
	step("claim SIN-2 rejected", tx)

	_, err = n.engine.AcceptClaim(ctx, insurer, worker.PolicyNumber(), "SIN-1", detail)
	var v *contract.RuleViolation
	if !errors.As(err, &v) {
		return fmt.Errorf("second acceptance of SIN-1 was not refused: %v", err)
	}
	fmt.Fprintf(w, "%-28s %s\n", "second acceptance refused", v)

	if err := n.ledger.Verify(ctx); err != nil {
		return err
	}
	head, err := n.ledger.Head(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-28s head=%s\n", "ledger verified", head)
	return nil
}
