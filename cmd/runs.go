package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcloud/cloud-agent/internal/agent"
	"github.com/agentcloud/cloud-agent/internal/workflow"
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Approve a suspended deployment and execute it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resumeRun(cmd, args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <run-id>",
	Short: "Reject a suspended deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resumeRun(cmd, args[0], false)
	},
}

func resumeRun(cmd *cobra.Command, runID string, approved bool) error {
	path, _ := cmd.Flags().GetString("path")
	a, err := newApp(cmd, path)
	if err != nil {
		return err
	}
	defer a.Close()

	out := a.workflow(agent.Set{}).Resume(cmd.Context(), runID, workflow.ResumeInput{Approved: approved})
	return printOutcome(cmd.OutOrStdout(), out)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List deployments waiting for approval",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		a, err := newApp(cmd, path)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.runs.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No suspended runs.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tCLOUD\tCREATED\tPROJECT")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Cloud.Upper(), r.CreatedAt.Local().Format(time.DateTime), r.ProjectPath)
		}
		return tw.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd, runsCmd} {
		c.Flags().String("path", ".", "project directory")
		rootCmd.AddCommand(c)
	}
}
