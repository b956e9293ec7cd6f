package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentcloud/cloud-agent/internal/apperrors"
	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <record-id>",
	Short: "Delete the cloud resources of a recorded deployment",
	Long: `Tear down the resources a successful deployment recorded in the project history.
Each deletion is best effort; failures are logged and the remaining steps still run.

Examples:
  cloud-agent cleanup 3f1c2e9a-...
  cloud-agent cleanup 3f1c2e9a-... --resource-group --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		yes, _ := cmd.Flags().GetBool("yes")
		wholeGroup, _ := cmd.Flags().GetBool("resource-group")

		a, err := newApp(cmd, path)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, ok := a.history.Find(args[0])
		if !ok {
			return fmt.Errorf("no deployment record with id %s", args[0])
		}
		if len(rec.Resources) == 0 && !wholeGroup {
			fmt.Fprintln(cmd.OutOrStdout(), "The deployment recorded no resources, nothing to clean up.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Resources of %s deployment %s:\n", rec.Cloud.Upper(), rec.ID)
		for _, k := range sortedKeys(rec.Resources) {
			fmt.Fprintf(w, "  %s: %s\n", k, rec.Resources[k])
		}

		if !yes {
			confirmed, err := cli.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Delete these resources?")
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(w, "Cleanup cancelled.")
				return nil
			}
		}

		ctx := cmd.Context()
		if rec.Cloud == cloud.Azure && wholeGroup {
			a.azureProvider().CleanupResourceGroup(ctx, rec.Resources["resourceGroup"])
			fmt.Fprintln(w, "Resource group deletion started.")
			return nil
		}

		provider, err := a.provider(ctx, rec.Cloud)
		if err != nil {
			return err
		}
		if !provider.Authenticate(ctx) {
			return apperrors.AuthFailed(rec.Cloud.String())
		}
		provider.Cleanup(ctx, rec.Resources)
		fmt.Fprintln(w, "Cleanup finished.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().String("path", ".", "project directory")
	cleanupCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	cleanupCmd.Flags().Bool("resource-group", false, "azure: delete the whole resource group instead")
}
