// Package main is the entry point for the compressarr application.
package main

import (
	"os"

	"github.com/jmylchreest/compressarr/cmd/compressarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
