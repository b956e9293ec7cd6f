package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/agent"
	"github.com/agentcloud/cloud-agent/internal/deploy"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a project without deploying it",
	Long: `Scan a project's files and report its type, runtime, databases and port. Unless
--local is set, the project-analyzer agent refines the scan.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		local, _ := cmd.Flags().GetBool("local")
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, path)
		if err != nil {
			return err
		}
		defer a.Close()

		profile, err := deploy.Scan(a.projectDir)
		if err != nil {
			return fmt.Errorf("project scan failed: %w", err)
		}

		analysis := profile.Analysis()
		if !local {
			ctx := cmd.Context()
			set, err := a.agents(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "[analyze] asking project-analyzer...")
			text, err := set.Analyzer.Collect(ctx, agent.AnalysisPrompt(a.projectDir, profile.PromptContext()))
			if err != nil {
				return err
			}
			analysis, err = deploy.ParseAnalysis(text)
			if err != nil {
				a.logger.Warn("analyzer response unparseable, using default analysis", zap.Error(err))
				fmt.Fprintln(cmd.ErrOrStderr(), "[analyze] agent response was not valid JSON, showing the default analysis")
			}
		}

		if output != "text" {
			return encode(cmd.OutOrStdout(), output, analysis)
		}
		printAnalysis(cmd.OutOrStdout(), profile, analysis)
		return nil
	},
}

func printAnalysis(w io.Writer, p *deploy.ProjectProfile, a deploy.ProjectAnalysis) {
	heading(w, "project analysis")
	fmt.Fprintf(w, "Path:      %s\n", p.Dir)
	fmt.Fprintf(w, "Type:      %s\n", a.ProjectType)
	fmt.Fprintf(w, "Runtime:   %s\n", a.Runtime)
	if a.Framework != "" {
		fmt.Fprintf(w, "Framework: %s\n", a.Framework)
	}
	dbs := "none"
	if len(a.Databases) > 0 {
		dbs = strings.Join(a.Databases, ", ")
	}
	fmt.Fprintf(w, "Databases: %s\n", dbs)
	if a.Port > 0 {
		fmt.Fprintf(w, "Port:      %d\n", a.Port)
	}
	fmt.Fprintf(w, "Docker:    %t\n", a.HasDocker || p.HasDocker)
	if p.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", p.Summary)
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().String("path", ".", "project directory")
	analyzeCmd.Flags().Bool("local", false, "only run the local scan, no LLM call")
	analyzeCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
}
