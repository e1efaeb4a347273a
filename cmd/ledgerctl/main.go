// Command ledgerctl is the operator CLI for the inventory ledger.
package main

import (
	"fmt"
	"os"

	"github.com/keel/stock-ledger/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
