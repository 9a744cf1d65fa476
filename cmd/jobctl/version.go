package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/jobctl"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of jobctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("jobctl version %s\n", strings.TrimSpace(jobctl.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
