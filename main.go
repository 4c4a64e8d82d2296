// The main package for the explorer executable.
package main

import (
	"github.com/Sbajrac2/Reddit-explorer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
