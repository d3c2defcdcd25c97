// Command budgetctl runs maintenance tasks against the ledger database.
package main

import (
	"os"

	"budget/cmd/budgetctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
