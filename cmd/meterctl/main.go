// Package main is the entry point for the meterctl operator CLI.
package main

import (
	"os"

	"github.com/vnmchuo/llm-meter/cmd/meterctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
