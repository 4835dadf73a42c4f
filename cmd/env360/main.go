// Copyright Contributors to the env360 project

// env360 is the unified binary for the multi-tenant environment/service
// deployment orchestrator: a "serve" command that runs the dispatcher
// plus the illustrative health/status HTTP surface, a "migrate" command
// that applies the Postgres schema, and a "version" command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use: "env360",
	Short: "env360 - multi-tenant environment/service deployment orchestrator",
	Long: `env360 turns a mutable service description into immutable versioned
snapshots and, on demand, reconciles those snapshots onto a Kubernetes
cluster.

Available commands:
 serve Run the dispatcher and the health/status HTTP surface
 migrate Apply the Postgres schema
 version Print the build version`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
