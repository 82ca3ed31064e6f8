// Package main is the entry point for the asciireel application.
package main

import (
	"os"

	"github.com/jmylchreest/asciireel/cmd/asciireel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
