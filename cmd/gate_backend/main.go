// Command gate_backend runs the bearer token gate and administers its tokens.
package main

import (
	"fmt"
	"os"

	"github.com/SscSPs/bearer_gate/internal/cli"
)

func main() {
	app := cli.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
