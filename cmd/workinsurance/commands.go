package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/CatarinaFranco94/workers-insurance/pkg/archive"
	"github.com/CatarinaFranco94/workers-insurance/pkg/config"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/requests"
	"github.com/CatarinaFranco94/workers-insurance/pkg/workflow"
)

// withNode parses flags, opens the node and runs fn against it.
func withNode(cmd *flag.FlagSet, args []string, stderr io.Writer, fn func(ctx context.Context, n *node) int) int {
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	ctx := context.Background()
	n, err := openNode(ctx, config.Load(), stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer n.Close()
	return fn(ctx, n)
}

func printTx(stdout, stderr io.Writer, tx *workflow.SignedTransaction) int {
	if err := writeJSON(stdout, tx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func identityFlag(name string) (insurance.Identity, error) {
	if name == "" {
		return insurance.Identity{}, nil
	}
	return insurance.NewIdentity(name)
}

// runIssueCmd implements `workinsurance issue`.
func runIssueCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("issue", flag.ContinueOnError)
	insurerName := cmd.String("insurer", "", "Identity of the issuing insurer (REQUIRED)")
	request := cmd.String("request", "", "Path to the issue request JSON, - for stdin (REQUIRED)")

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		if *insurerName == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --insurer is required")
			return 2
		}
		insurer, err := insurance.NewIdentity(*insurerName)
		if err != nil {
			return fail(stderr, err)
		}
		data, err := readRequest(*request)
		if err != nil {
			return fail(stderr, err)
		}
		req, err := requests.DecodeIssue(data)
		if err != nil {
			return fail(stderr, err)
		}
		in, err := req.ToInput()
		if err != nil {
			return fail(stderr, err)
		}
		if err := n.trust(insurer, in.Insuree); err != nil {
			return fail(stderr, err)
		}

		tx, err := n.engine.IssuePolicy(ctx, insurer, in)
		if err != nil {
			return fail(stderr, err)
		}
		return printTx(stdout, stderr, tx)
	})
}

// runClaimCmd implements `workinsurance claim`. The claim is filed by the
// policy's insuree unless --as names another party.
func runClaimCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("claim", flag.ContinueOnError)
	policy := cmd.String("policy", "", "Policy number (REQUIRED)")
	request := cmd.String("request", "", "Path to the claim request JSON, - for stdin (REQUIRED)")
	as := cmd.String("as", "", "Initiating identity (default: the insuree)")

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		if *policy == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --policy is required")
			return 2
		}
		data, err := readRequest(*request)
		if err != nil {
			return fail(stderr, err)
		}
		req, err := requests.DecodeClaim(data)
		if err != nil {
			return fail(stderr, err)
		}
		in, err := req.ToInput()
		if err != nil {
			return fail(stderr, err)
		}

		cur, err := n.engine.Policy(ctx, *policy)
		if err != nil {
			return fail(stderr, err)
		}
		initiator, err := identityFlag(*as)
		if err != nil {
			return fail(stderr, err)
		}
		if initiator.IsZero() {
			initiator = cur.State.Insuree()
		}
		if err := n.trust(cur.State.Participants()...); err != nil {
			return fail(stderr, err)
		}

		tx, err := n.engine.ProposeClaim(ctx, initiator, *policy, in)
		if err != nil {
			return fail(stderr, err)
		}
		return printTx(stdout, stderr, tx)
	})
}

// runDecideCmd implements `workinsurance decide`. The decision is taken by the
// policy's insurer unless --as names another party.
func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	policy := cmd.String("policy", "", "Policy number (REQUIRED)")
	request := cmd.String("request", "", "Path to the decision request JSON, - for stdin (REQUIRED)")
	as := cmd.String("as", "", "Initiating identity (default: the insurer)")

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		if *policy == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --policy is required")
			return 2
		}
		data, err := readRequest(*request)
		if err != nil {
			return fail(stderr, err)
		}
		req, err := requests.DecodeDecision(data)
		if err != nil {
			return fail(stderr, err)
		}

		cur, err := n.engine.Policy(ctx, *policy)
		if err != nil {
			return fail(stderr, err)
		}
		initiator, err := identityFlag(*as)
		if err != nil {
			return fail(stderr, err)
		}
		if initiator.IsZero() {
			initiator = cur.State.Insurer()
		}
		if err := n.trust(cur.State.Participants()...); err != nil {
			return fail(stderr, err)
		}

		var tx *workflow.SignedTransaction
		if req.Accept() {
			detail, derr := req.ToDetail()
			if derr != nil {
				return fail(stderr, derr)
			}
			tx, err = n.engine.AcceptClaim(ctx, initiator, *policy, req.ClaimNumber, detail)
		} else {
			tx, err = n.engine.RejectClaim(ctx, initiator, *policy, req.ClaimNumber)
		}
		if err != nil {
			return fail(stderr, err)
		}
		return printTx(stdout, stderr, tx)
	})
}

func runShowCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("show", flag.ContinueOnError)
	policy := cmd.String("policy", "", "Policy number (REQUIRED)")

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		cur, err := n.engine.Policy(ctx, *policy)
		if err != nil {
			return fail(stderr, err)
		}
		if err := writeJSON(stdout, cur); err != nil {
			return fail(stderr, err)
		}
		return 0
	})
}

func runHistoryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("history", flag.ContinueOnError)
	policy := cmd.String("policy", "", "Policy number (REQUIRED)")

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		states, err := n.engine.History(ctx, *policy)
		if err != nil {
			return fail(stderr, err)
		}
		if len(states) == 0 {
			_, _ = fmt.Fprintf(stderr, "Error: no history for policy %q\n", *policy)
			return 1
		}
		if err := writeJSON(stdout, states); err != nil {
			return fail(stderr, err)
		}
		return 0
	})
}

// runVerifyCmd recomputes the ledger chain. Exit code 1 means the chain is broken.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		if err := n.ledger.Verify(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		entries, err := n.ledger.List(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		head, err := n.ledger.Head(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		_ = writeJSON(stdout, map[string]any{"verified": true, "entries": len(entries), "head": head})
		return 0
	})
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)

	return withNode(cmd, args, stderr, func(ctx context.Context, n *node) int {
		store, err := archive.NewStoreFromConfig(ctx, n.cfg.Archive)
		if err != nil {
			return fail(stderr, err)
		}
		bundle, err := archive.Export(ctx, n.ledger, store)
		if err != nil {
			return fail(stderr, err)
		}
		_ = writeJSON(stdout, bundle)
		return 0
	})
}
