// Package app wires the sift CLI commands together.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "collect":
		return runCollect(args[1:])
	case "process":
		return runProcess(args[1:])
	case "merge":
		return runMerge(args[1:])
	case "run-once":
		return runRunOnce(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "sift CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  sift <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database and store connectivity")
	fmt.Fprintln(os.Stderr, "  collect   Pull candidate articles from the configured feeds")
	fmt.Fprintln(os.Stderr, "  process   Filter, deduplicate and classify ingested articles")
	fmt.Fprintln(os.Stderr, "  merge     Merge processed articles into the canonical stores")
	fmt.Fprintln(os.Stderr, "  run-once  Run collect + process + merge in sequence")
	fmt.Fprintln(os.Stderr, "  serve     Start the read-only JSON API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"sift <command> -h\" for command-specific flags.")
}
