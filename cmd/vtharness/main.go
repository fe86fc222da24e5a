// vtharness runs JSON integration-test fixtures against VCF to BigQuery
// pipeline output.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/vtharness/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vtharness: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
