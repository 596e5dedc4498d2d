// beaconctl is the operator command line for beacon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "beaconctl",
		Short:         "Operator tooling for the beacon alert service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newTokenCmd(), newSweepCmd())
	return root
}
