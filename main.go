// The main package for the boatrace executable.
package main

import (
	"github.com/JakeFAU/boatrace-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
