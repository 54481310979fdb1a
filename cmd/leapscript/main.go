// Package main provides the CLI for the leapscript hot-reload runtime.
package main

import (
	"os"

	"github.com/leapstack-labs/leapscript/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
