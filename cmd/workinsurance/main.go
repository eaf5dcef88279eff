// Command workinsurance runs the policy flows of one node against its local
// vault and ledger.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. Exit codes: 0 success, 1 the request was
// refused, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "issue":
		return runIssueCmd(args[2:], stdout, stderr)
	case "claim":
		return runClaimCmd(args[2:], stdout, stderr)
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "show":
		return runShowCmd(args[2:], stdout, stderr)
	case "history":
		return runHistoryCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorCyan  = "\033[36m"
	colorGreen = "\033[32m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sworkinsurance%s - workplace insurance policy ledger\n", colorBold, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  workinsurance <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "FLOWS")
	printCommand(w, "issue", "Issue a policy (--insurer, --request)")
	printCommand(w, "claim", "Propose a claim (--policy, --request, --as)")
	printCommand(w, "decide", "Accept or reject a claim (--policy, --request, --as)")

	printSection(w, "QUERIES")
	printCommand(w, "show", "Print the current state of a policy (--policy)")
	printCommand(w, "history", "Print every version of a policy (--policy)")
	printCommand(w, "verify", "Verify the ledger hash chain")
	printCommand(w, "export", "Export the ledger to the configured archive")

	printSection(w, "UTILITIES")
	printCommand(w, "demo", "Run a full policy lifecycle against a scratch database")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", colorGreen, name, colorReset, desc)
}
