// The main package for the listing-harvester executable.
package main

import (
	"github.com/JakeFAU/listing-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
