package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/agent"
	"github.com/agentcloud/cloud-agent/internal/aws"
	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/deploy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the cloud CLIs are installed and authenticated",
	Long: `Run the local environment checks (CLI, authentication, environment variables, network,
permissions) for one cloud, or for all of them when no cloud is selected. With --agent the
environment-validator agent reviews the results.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		cloudFlag, _ := cmd.Flags().GetString("cloud")
		useAgent, _ := cmd.Flags().GetBool("agent")

		a, err := newApp(cmd, path)
		if err != nil {
			return err
		}
		defer a.Close()

		targets := cloud.All
		if cloudFlag != "" {
			c, err := cloud.Parse(cloudFlag)
			if err != nil {
				return err
			}
			targets = []cloud.Cloud{c}
		} else if c, ok := a.history.DefaultCloud(); ok {
			targets = []cloud.Cloud{c}
		}

		ctx := cmd.Context()
		var validator *agent.Agent
		if useAgent {
			set, err := a.agents(ctx)
			if err != nil {
				return err
			}
			validator = set.Validator
		}

		w := cmd.OutOrStdout()
		checker := a.checker()
		for _, c := range targets {
			report := checker.Check(ctx, c)
			cli.PrintReport(w, report)

			if c == cloud.AWS {
				a.awsSDKStatus(ctx, w)
			}

			if validator != nil {
				text, err := validator.Collect(ctx, agent.ValidationPrompt(c.Upper(), report.Summary()))
				if err != nil {
					return err
				}
				vr, err := deploy.ParseValidation(text)
				if err != nil {
					a.logger.Warn("validator response unparseable, using default report", zap.Error(err))
				}
				printValidation(w, vr)
			}
		}
		return nil
	},
}

// awsSDKStatus checks the SDK credential chain, which the region lookup and task
// address resolution depend on, separately from the CLI session.
func (a *app) awsSDKStatus(ctx context.Context, w io.Writer) {
	profile := a.settings.AWS.Profile
	region := aws.ResolveRegion(ctx, a.settings.AWS.Region, a.history.PreferredRegion(cloud.AWS), profile)
	fmt.Fprintf(w, "AWS SDK (region %s):\n", region)

	cfg, err := aws.LoadSDKConfig(ctx, a.runner, profile, region)
	if err != nil {
		fmt.Fprintf(w, "  [-] credentials: %v\n\n", err)
		return
	}
	id, err := aws.CallerIdentity(ctx, cfg)
	if err != nil {
		fmt.Fprintf(w, "  [-] identity: %v\n\n", err)
		return
	}
	fmt.Fprintf(w, "  [+] identity: %s (account %s)\n", id.Arn, id.Account)
	if n, err := aws.BucketCount(ctx, cfg); err != nil {
		fmt.Fprintf(w, "  [-] s3: %v\n", err)
	} else {
		fmt.Fprintf(w, "  [+] s3: %d buckets visible\n", n)
	}
	fmt.Fprintln(w)
}

func printValidation(w io.Writer, r deploy.ValidationReport) {
	heading(w, "environment-validator")
	fmt.Fprintln(w, r.Summary())
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := r.Checks[name]
		icon := "+"
		if !c.Passed {
			icon = "-"
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", icon, name, c.Message)
	}
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("cloud", "", "cloud to check: aws, gcp or azure (default: project default, else all)")
	statusCmd.Flags().String("path", ".", "project directory")
	statusCmd.Flags().Bool("agent", false, "ask the environment-validator agent to review the checks")
}
