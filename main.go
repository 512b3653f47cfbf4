// The main package for the leadcrawl executable.
package main

import (
	"github.com/JakeFAU/leadcrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
