package cmd

import "github.com/spf13/cobra"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log inspection tools",
	Long:  `Commands for inspecting the audit log recorded by a gatehouse server.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
