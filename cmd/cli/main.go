// Package main is the entry point for the advsandbox CLI.
// advctl is the terminal tool for launching and inspecting attacks.
package main

import (
	"os"

	"advsandbox/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
