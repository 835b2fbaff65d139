package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build; source builds report "dev".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse is an admin authorization and session service",
	Long: `An authorization service that resolves session context, enforces admin
authority with rate-limited logins, and keeps workspace switches consistent.
Complete documentation is available at https://github.com/pbartlett/gatehouse`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Define flags and configuration settings here.
}
