package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/workflow"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Validate, analyze, plan and deploy a project",
	Long: `Run the deployment workflow for a project: validate the cloud environment, analyze
the project, plan the deployment and, once approved, provision it.

Examples:
  cloud-agent deploy --cloud aws
  cloud-agent deploy --cloud gcp --path ./web --yes
  cloud-agent deploy --cloud azure --no-wait`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		cloudFlag, _ := cmd.Flags().GetString("cloud")
		yes, _ := cmd.Flags().GetBool("yes")
		noWait, _ := cmd.Flags().GetBool("no-wait")

		a, err := newApp(cmd, path)
		if err != nil {
			return err
		}
		defer a.Close()

		// An explicit --cloud goes to the workflow as typed so it reports the invalid value.
		target := cloud.Cloud(strings.TrimSpace(cloudFlag))
		if target == "" {
			if target, err = a.defaultCloud(); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		set, err := a.agents(ctx)
		if err != nil {
			return err
		}
		wf := a.workflow(set)

		out := wf.Start(ctx, workflow.Request{ProjectPath: a.projectDir, Cloud: target})
		approve := func(s *workflow.SuspendedPayload) (bool, error) {
			if yes || a.history.AutoApprove() {
				fmt.Fprintln(cmd.ErrOrStderr(), "[deploy] auto-approved")
				return true, nil
			}
			return cli.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Proceed with deployment?")
		}
		return settle(ctx, cmd.OutOrStdout(), wf, out, noWait, approve)
	},
}

// settle prints a Start outcome and, unless noWait, asks for approval and resumes.
func settle(ctx context.Context, w io.Writer, wf *workflow.Workflow, out workflow.Outcome, noWait bool,
	approve func(*workflow.SuspendedPayload) (bool, error)) error {
	if out.Kind == workflow.Completed {
		return printOutcome(w, out)
	}

	s := out.Suspended
	printPlan(w, s)
	if noWait {
		fmt.Fprintf(w, "\nApprove with: cloud-agent approve %s\nReject with:  cloud-agent reject %s\n", s.RunID, s.RunID)
		return nil
	}

	approved, err := approve(s)
	if err != nil {
		return fmt.Errorf("failed to read approval: %w", err)
	}
	return printOutcome(w, wf.Resume(ctx, s.RunID, workflow.ResumeInput{Approved: approved}))
}

func printOutcome(w io.Writer, out workflow.Outcome) error {
	if out.Kind == workflow.Suspended {
		printPlan(w, out.Suspended)
		return nil
	}
	if out.Result.Phase == workflow.PhaseCancelled {
		fmt.Fprintln(w, out.Result.Message)
		return nil
	}
	return printResult(w, out.Result)
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().String("cloud", "", "target cloud: aws, gcp or azure (default: project default cloud)")
	deployCmd.Flags().String("path", ".", "project directory")
	deployCmd.Flags().BoolP("yes", "y", false, "approve the plan without prompting")
	deployCmd.Flags().Bool("no-wait", false, "stop after planning and leave the run suspended")
}
