package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/agent"
	"github.com/agentcloud/cloud-agent/internal/ai"
	"github.com/agentcloud/cloud-agent/internal/apperrors"
	"github.com/agentcloud/cloud-agent/internal/aws"
	"github.com/agentcloud/cloud-agent/internal/azure"
	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/config"
	"github.com/agentcloud/cloud-agent/internal/gcp"
	"github.com/agentcloud/cloud-agent/internal/history"
	"github.com/agentcloud/cloud-agent/internal/logger"
	"github.com/agentcloud/cloud-agent/internal/runstore"
	"github.com/agentcloud/cloud-agent/internal/workflow"
)

// app holds everything a command needs. It is built once per invocation and passed down.
type app struct {
	projectDir string
	settings   *config.Settings
	session    *logger.Session
	logger     *zap.Logger
	history    *history.Store
	runs       *runstore.Store
	runner     cloud.Runner
	progress   io.Writer
}

// newApp loads settings for projectDir and opens its state stores.
func newApp(cmd *cobra.Command, projectDir string) (*app, error) {
	if projectDir == "" {
		projectDir = "."
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, apperrors.InvalidProjectPath(abs)
	}

	cwd, _ := os.Getwd()
	if err := config.LoadDotEnv(cwd); err != nil {
		return nil, err
	}
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store := history.NewStore(abs)
	level := settings.LogLevel
	if pref := store.LogLevel(); pref != "" && !cmd.Flags().Changed("log-level") {
		level = pref
	}

	session, err := logger.New(logger.Options{
		Level:     level,
		Dir:       filepath.Join(store.Dir(), "logs"),
		SessionID: time.Now().UTC().Format("20060102-150405"),
		Debug:     settings.Debug,
	})
	if err != nil {
		return nil, err
	}

	runs, err := runstore.Open(filepath.Join(store.Dir(), runstore.FileName))
	if err != nil {
		session.Close()
		return nil, err
	}

	return &app{
		projectDir: abs,
		settings:   settings,
		session:    session,
		logger:     session.Logger,
		history:    store,
		runs:       runs,
		runner:     cloud.NewExecRunner(settings.Deploy.CommandTimeout, session.Logger.Named("exec")),
		progress:   cmd.ErrOrStderr(),
	}, nil
}

func (a *app) Close() {
	if err := a.runs.Close(); err != nil {
		a.logger.Warn("failed to close run store", zap.Error(err))
	}
	_ = a.session.Close()
}

// agents builds the LLM chain from settings.
func (a *app) agents(ctx context.Context) (agent.Set, error) {
	client, err := ai.NewClient(ctx, ai.Config{
		Chain:      a.settings.AI.Chain,
		MaxRetries: a.settings.AI.MaxRetries,
		Gemini:     ai.ProviderConfig(a.settings.AI.Gemini),
		OpenAI:     ai.ProviderConfig(a.settings.AI.OpenAI),
		Anthropic:  ai.ProviderConfig(a.settings.AI.Anthropic),
		Logger:     a.logger.Named("ai"),
	})
	if err != nil {
		return agent.Set{}, err
	}
	a.logger.Debug("llm chain ready", zap.Strings("backends", client.Backends()))
	return agent.NewSet(client), nil
}

func (a *app) checker() *cli.EnvironmentChecker {
	return cli.NewEnvironmentChecker(a.runner, a.logger.Named("checker"))
}

// workflow wires set into a Workflow. Resuming never consults the agents, so approve
// and reject pass an empty set and need no LLM credentials.
func (a *app) workflow(set agent.Set) *workflow.Workflow {
	return workflow.New(workflow.Dependencies{
		Validator: set.Validator,
		Analyzer:  set.Analyzer,
		Planner:   set.Planner,
		Checker:   a.checker(),
		Providers: a.provider,
		History:   a.history,
		Runs:      a.runs,
		Logger:    a.logger.Named("workflow"),
		Settings:  a.settings,
		Progress:  a.progress,
	})
}

// provider builds the adapter for c from settings and project preferences.
func (a *app) provider(ctx context.Context, c cloud.Cloud) (cloud.Provider, error) {
	preferred := a.history.PreferredRegion(c)
	switch c {
	case cloud.AWS:
		profile := a.settings.AWS.Profile
		region := aws.ResolveRegion(ctx, a.settings.AWS.Region, preferred, profile)
		opts := aws.Options{
			Region:   region,
			Profile:  profile,
			Logger:   a.logger.Named("aws"),
			Progress: a.progress,
		}
		if cfg, err := aws.LoadSDKConfig(ctx, a.runner, profile, region); err != nil {
			a.logger.Warn("aws sdk config unavailable, task address will not be resolved", zap.Error(err))
		} else {
			opts.IPResolver = aws.NewTaskIPResolver(cfg)
		}
		return aws.New(a.runner, opts), nil
	case cloud.GCP:
		return gcp.New(a.runner, gcp.Options{
			Project:  gcp.ResolveProject(a.settings.GCP.Project),
			Region:   gcp.ResolveRegion(a.settings.GCP.Region, preferred),
			Logger:   a.logger.Named("gcp"),
			Progress: a.progress,
		}), nil
	case cloud.Azure:
		return a.azureProvider(), nil
	}
	return nil, fmt.Errorf("unsupported cloud provider %q", c)
}

func (a *app) azureProvider() *azure.Provider {
	return azure.New(a.runner, azure.Options{
		Subscription:  a.settings.Azure.Subscription,
		ResourceGroup: a.settings.Azure.ResourceGroup,
		Location:      azure.ResolveLocation(a.settings.Azure.Location, a.history.PreferredRegion(cloud.Azure)),
		Logger:        a.logger.Named("azure"),
		Progress:      a.progress,
	})
}

// defaultCloud returns the project's default cloud for commands run without --cloud.
func (a *app) defaultCloud() (cloud.Cloud, error) {
	if c, ok := a.history.DefaultCloud(); ok {
		return c, nil
	}
	return "", fmt.Errorf("no cloud selected: pass --cloud aws|gcp|azure or run cloud-agent config set-default-cloud")
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
