package main

import (
	"fmt"
	"os"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"sign":   runSign,
	"send":   runSend,
	"create": runCreate,
	"token":  runToken,
}

func usage() {
	fmt.Fprintf(os.Stderr, `pipectl - contentflow pipeline CLI (version %s)

Usage:
  pipectl <command> [options]

Commands:
  sign     Print webhook signature headers for a request body
  send     Send a signed webhook trigger to a pipeline
  create   Create a pipeline from a YAML or JSON definition file
  token    Mint an HS256 bearer token for the management API

Run 'pipectl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // CLI error output
		usage()
		os.Exit(1)
	}
	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // CLI error output
		os.Exit(1)
	}
}
