// Command thence is the CLI entrypoint for the event-sourced supervisor:
// run, resume, questions, answer and inspect, per the root command wired
// in internal/cli.
package main

import (
	"fmt"
	"os"

	"github.com/iambrandonn/thence/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
