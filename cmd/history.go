package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show and manage the project's deployment history",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded deployments, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	a, err := historyApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := filterRecords(cmd, a.history.Deployments())
	if err != nil {
		return err
	}
	records = lo.Reverse(records)

	if output, _ := cmd.Flags().GetString("output"); output != "text" {
		return encode(cmd.OutOrStdout(), output, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deployments recorded.")
		return nil
	}
	printRecords(cmd.OutOrStdout(), records)
	return nil
}

func filterRecords(cmd *cobra.Command, records []history.Record) ([]history.Record, error) {
	cloudFlag, _ := cmd.Flags().GetString("cloud")
	failed, _ := cmd.Flags().GetBool("failed")
	successful, _ := cmd.Flags().GetBool("successful")
	if failed && successful {
		return nil, fmt.Errorf("--failed and --successful are mutually exclusive")
	}

	if cloudFlag != "" {
		c, err := cloud.Parse(cloudFlag)
		if err != nil {
			return nil, err
		}
		records = lo.Filter(records, func(r history.Record, _ int) bool { return r.Cloud == c })
	}
	switch {
	case failed:
		records = lo.Filter(records, func(r history.Record, _ int) bool { return !r.Success })
	case successful:
		records = lo.Filter(records, func(r history.Record, _ int) bool { return r.Success })
	}
	return records, nil
}

func printRecords(w io.Writer, records []history.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tCLOUD\tSTATUS\tDURATION\tCOST\tURL")
	for _, r := range records {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		duration := "-"
		if r.Duration != nil {
			duration = fmt.Sprintf("%.1fs", float64(*r.Duration)/1000)
		}
		cost := "-"
		if r.Cost != nil {
			cost = fmt.Sprintf("$%.2f", *r.Cost)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Timestamp, r.Cloud.Upper(), status, duration, cost, lo.Ternary(r.DeploymentURL == "", "-", r.DeploymentURL))
	}
	_ = tw.Flush()
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the deployment history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := historyApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		stats := a.history.Stats()
		if output, _ := cmd.Flags().GetString("output"); output != "text" {
			return encode(cmd.OutOrStdout(), output, stats)
		}

		w := cmd.OutOrStdout()
		heading(w, "deployment statistics")
		fmt.Fprintf(w, "Total:      %d\n", stats.Total)
		fmt.Fprintf(w, "Successful: %d\n", stats.Successful)
		fmt.Fprintf(w, "Failed:     %d\n", stats.Failed)
		for _, c := range cloud.All {
			fmt.Fprintf(w, "  %-6s %d\n", c.Upper(), stats.ByCloud[c])
		}
		fmt.Fprintf(w, "Total cost: $%.2f/month\n", stats.TotalCost)
		fmt.Fprintf(w, "Average duration: %.1fs\n", stats.AverageDuration/1000)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every deployment record, keeping preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := historyApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := cli.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
				fmt.Sprintf("Delete %d deployment records?", len(a.history.Deployments())))
			if err != nil || !ok {
				return err
			}
		}
		if err := a.history.ClearHistory(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Deployment history cleared.")
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the history document to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := historyApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		output, _ := cmd.Flags().GetString("output")
		var data []byte
		if output == "text" || output == "json" {
			if data, err = a.history.Export(); err != nil {
				return err
			}
			data = append(data, '\n')
		} else {
			var b strings.Builder
			if err := encode(&b, output, a.history.Document()); err != nil {
				return err
			}
			data = []byte(b.String())
		}

		if len(args) == 0 {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(args[0], data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "History exported to %s\n", args[0])
		return nil
	},
}

var historyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the history document with an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := historyApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		if err := a.history.Import(data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d deployment records.\n", len(a.history.Deployments()))
		return nil
	},
}

func historyApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("path")
	return newApp(cmd, path)
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyStatsCmd, historyClearCmd, historyExportCmd, historyImportCmd)

	historyCmd.PersistentFlags().String("path", ".", "project directory")
	historyCmd.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")

	for _, c := range []*cobra.Command{historyCmd, historyListCmd} {
		c.Flags().String("cloud", "", "only show deployments to this cloud")
		c.Flags().Bool("failed", false, "only show failed deployments")
		c.Flags().Bool("successful", false, "only show successful deployments")
	}
	historyClearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}
