package cmd

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage project deployment preferences",
	Long: `Show or change the preferences stored in the project's .agent-cloud/config.json.

Examples:
  cloud-agent config show
  cloud-agent config set-default-cloud gcp
  cloud-agent config set-auto-approve true
  cloud-agent config set-region aws eu-west-1`,
}

// projectPreferences is the preferences part of the history document.
type projectPreferences struct {
	ProjectName  string                 `json:"projectName,omitempty" yaml:"projectName,omitempty"`
	DefaultCloud cloud.Cloud            `json:"defaultCloud,omitempty" yaml:"defaultCloud,omitempty"`
	AutoApprove  bool                   `json:"autoApprove" yaml:"autoApprove"`
	Regions      map[cloud.Cloud]string `json:"regions" yaml:"regions"`
	LogLevel     string                 `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	Deployments  int                    `json:"deployments" yaml:"deployments"`
	Path         string                 `json:"path" yaml:"path"`
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the project preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := configApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		doc := a.history.Document()
		output, _ := cmd.Flags().GetString("output")
		return encode(cmd.OutOrStdout(), output, projectPreferences{
			ProjectName:  doc.ProjectName,
			DefaultCloud: doc.DefaultCloud,
			AutoApprove:  doc.AutoApprove,
			Regions:      doc.Preferences.Region,
			LogLevel:     doc.Preferences.LogLevel,
			Deployments:  len(doc.Deployments),
			Path:         a.history.Path(),
		})
	},
}

var configSetDefaultCloudCmd = &cobra.Command{
	Use:   "set-default-cloud <aws|gcp|azure>",
	Short: "Set the cloud used when --cloud is omitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cloud.Parse(args[0])
		if err != nil {
			return err
		}
		return updatePreference(cmd, func(a *app) error { return a.history.SetDefaultCloud(c) },
			"Default cloud set to %s", c.Upper())
	},
}

var configSetAutoApproveCmd = &cobra.Command{
	Use:   "set-auto-approve <true|false>",
	Short: "Skip the approval prompt for this project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("invalid value %q: use true or false", args[0])
		}
		return updatePreference(cmd, func(a *app) error { return a.history.SetAutoApprove(v) },
			"Auto-approve set to %t", v)
	},
}

var configSetRegionCmd = &cobra.Command{
	Use:   "set-region <aws|gcp|azure> <region>",
	Short: "Set the preferred region (location for Azure) of a cloud",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cloud.Parse(args[0])
		if err != nil {
			return err
		}
		return updatePreference(cmd, func(a *app) error { return a.history.SetPreferredRegion(c, args[1]) },
			"%s region set to %s", c.Upper(), args[1])
	},
}

var logLevels = []string{"debug", "info", "success", "warn", "error"}

var configSetLogLevelCmd = &cobra.Command{
	Use:   "set-log-level <debug|info|success|warn|error>",
	Short: "Set the project's default log level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level := args[0]
		if !lo.Contains(logLevels, level) {
			return fmt.Errorf("invalid log level %q", level)
		}
		return updatePreference(cmd, func(a *app) error { return a.history.SetLogLevel(level) },
			"Log level set to %s", level)
	},
}

func updatePreference(cmd *cobra.Command, set func(*app) error, format string, args ...any) error {
	a, err := configApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := set(a); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	return nil
}

func configApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("path")
	return newApp(cmd, path)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetDefaultCloudCmd, configSetAutoApproveCmd, configSetRegionCmd, configSetLogLevelCmd)

	configCmd.PersistentFlags().String("path", ".", "project directory")
	configShowCmd.Flags().StringP("output", "o", "yaml", "output format: json or yaml")
}
