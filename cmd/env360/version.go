// Copyright Contributors to the env360 project

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via
// -ldflags "-X main.buildVersion=...". It is only printed by the
// version command; workflow_status.application_version is set by
// whatever the Enqueue caller passes.
var buildVersion = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use: "version",
	Short: "Print the env360 build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(buildVersion)
		return nil
	},
}
