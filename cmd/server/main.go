// Package main is the entry point for revtrack.
//
// All logic lives in internal/ packages; main only hands control to the
// CLI, which loads configuration from the environment:
//
//	revtrack serve
//	revtrack sync --user <id> --provider gmail
package main

import "github.com/sakif/revtrack/internal/cli"

func main() {
	cli.Execute()
}
