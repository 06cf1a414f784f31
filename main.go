// ./main.go
package main

import (
	"github.com/skua-labs/deskpilot/cmd"
)

// main is the entry point for the deskpilot application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
