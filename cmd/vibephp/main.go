// Package main is the entry point for the vibephp CLI.
package main

import (
	"os"

	"github.com/InvictusSEO/vibephp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
