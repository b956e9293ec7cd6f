package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the supported cloud providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		heading(w, "supported cloud providers")
		for _, c := range cloud.All {
			info := cloud.Describe(c)
			fmt.Fprintf(w, "\n%s (%s)\n", info.DisplayName, c)
			fmt.Fprintf(w, "  %s\n", info.Description)
			fmt.Fprintf(w, "  CLI:  %s\n", info.RequiresCLI)
			fmt.Fprintf(w, "  Docs: %s\n", info.DocsURL)
		}
		fmt.Fprintln(w)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
