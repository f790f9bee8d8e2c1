// Package main is the entry point for the cardcalc CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/cardcalc/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
