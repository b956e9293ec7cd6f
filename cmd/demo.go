package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/deploy"
	"github.com/agentcloud/cloud-agent/internal/history"
	"github.com/agentcloud/cloud-agent/internal/logger"
	"github.com/agentcloud/cloud-agent/internal/runstore"
	"github.com/agentcloud/cloud-agent/internal/workflow"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through a deployment without touching any cloud",
	Long: `Run the full deployment workflow on a generated sample project with scripted agents
and a simulated cloud provider. Nothing is sent to an LLM or a cloud vendor.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cloudFlag, _ := cmd.Flags().GetString("cloud")
		yes, _ := cmd.Flags().GetBool("yes")
		keep, _ := cmd.Flags().GetBool("keep")

		c, err := cloud.Parse(cloudFlag)
		if err != nil {
			return err
		}

		dir, err := os.MkdirTemp("", "cloud-agent-demo-")
		if err != nil {
			return err
		}
		if keep {
			fmt.Fprintf(cmd.ErrOrStderr(), "[demo] sample project kept at %s\n", dir)
		} else {
			defer os.RemoveAll(dir)
		}
		if err := writeSampleProject(dir); err != nil {
			return err
		}

		store := history.NewStore(dir)
		session, err := logger.New(logger.Options{
			Dir:       filepath.Join(store.Dir(), "logs"),
			SessionID: "demo",
			Debug:     viper.GetBool("debug"),
		})
		if err != nil {
			return err
		}
		defer session.Close()

		runs, err := runstore.Open(filepath.Join(store.Dir(), runstore.FileName))
		if err != nil {
			return err
		}
		defer runs.Close()

		profile, err := deploy.Scan(dir)
		if err != nil {
			return err
		}
		analysis, err := json.Marshal(profile.Analysis())
		if err != nil {
			return err
		}

		progress := cmd.ErrOrStderr()
		wf := workflow.New(workflow.Dependencies{
			Validator: scriptedAgent{response: demoValidation},
			Analyzer:  scriptedAgent{response: "```json\n" + string(analysis) + "\n```"},
			Planner:   scriptedAgent{response: demoPlans[c]},
			Providers: func(context.Context, cloud.Cloud) (cloud.Provider, error) {
				return &simulatedProvider{cloud: c, progress: progress}, nil
			},
			History:  store,
			Runs:     runs,
			Logger:   session.Logger.Named("workflow"),
			Progress: progress,
		})

		ctx := cmd.Context()
		out := wf.Start(ctx, workflow.Request{ProjectPath: dir, Cloud: c})
		err = settle(ctx, cmd.OutOrStdout(), wf, out, false, func(*workflow.SuspendedPayload) (bool, error) {
			if yes {
				return true, nil
			}
			return cli.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Proceed with the simulated deployment?")
		})
		if err != nil {
			return err
		}

		stats := store.Stats()
		session.Logger.Info("demo finished", zap.Int("records", stats.Total))
		fmt.Fprintf(cmd.OutOrStdout(), "\nDemo history: %d record(s), %d successful.\n", stats.Total, stats.Successful)
		return nil
	},
}

type scriptedAgent struct {
	response string
}

func (a scriptedAgent) Collect(ctx context.Context, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(300 * time.Millisecond):
	}
	return a.response, nil
}

const demoValidation = `{
  "status": "ready",
  "checks": {
    "cli": {"passed": true, "message": "CLI installed"},
    "authentication": {"passed": true, "message": "Signed in (simulated)"},
    "envVars": {"passed": true, "message": "No variables required"},
    "network": {"passed": true, "message": "API endpoint reachable"},
    "permissions": {"passed": true, "message": "Read access confirmed"}
  }
}`

var demoPlans = map[cloud.Cloud]string{
	cloud.AWS: `{"services":["ECS Fargate","VPC security group"],"estimatedCost":18.5,` +
		`"commands":["aws ecs create-cluster --cluster-name demo-cluster","aws ecs register-task-definition ...","aws ecs create-service ..."]}`,
	cloud.GCP: `{"services":["Cloud Run","Cloud Build"],"estimatedCost":7.2,` +
		`"commands":["gcloud builds submit --tag gcr.io/PROJECT/demo","gcloud run deploy demo --allow-unauthenticated"]}`,
	cloud.Azure: `{"services":["Container Apps"],"estimatedCost":14,` +
		`"commands":["az containerapp env create ...","az containerapp create --ingress external ..."]}`,
}

// simulatedProvider reports the steps a real adapter would take and always succeeds.
type simulatedProvider struct {
	cloud    cloud.Cloud
	progress io.Writer
}

func (p *simulatedProvider) Name() cloud.Cloud { return p.cloud }

func (p *simulatedProvider) Authenticate(context.Context) bool {
	p.step("authenticated (simulated)")
	return true
}

func (p *simulatedProvider) DeployManagedCompute(ctx context.Context, opts cloud.ManagedComputeOptions) cloud.DeploymentResult {
	name := cloud.SanitizeName(opts.AppName)
	p.step("building and deploying %s on port %d", name, opts.ContainerPort)
	resources := map[string]string{}
	var url string
	switch p.cloud {
	case cloud.AWS:
		resources["cluster"] = name + "-cluster"
		resources["service"] = name + "-service"
		url = fmt.Sprintf("http://203.0.113.10:%d", opts.ContainerPort)
	case cloud.GCP:
		resources["service"] = name
		url = "https://" + name + "-demo.a.run.app"
	case cloud.Azure:
		resources["containerApp"] = name
		resources["resourceGroup"] = "agent-cloud-rg"
		url = "https://" + name + ".demo.eastus.azurecontainerapps.io"
	}
	return cloud.DeploymentResult{Success: true, Resources: resources, URL: url}
}

func (p *simulatedProvider) DeployStaticSite(ctx context.Context, opts cloud.StaticSiteOptions) cloud.DeploymentResult {
	bucket := cloud.UniqueName(opts.SiteName, time.Now())
	p.step("uploading %s to %s", opts.BuildDir, bucket)
	return cloud.DeploymentResult{
		Success:   true,
		Resources: map[string]string{"bucket": bucket},
		URL:       "https://" + bucket + ".example.com",
	}
}

func (p *simulatedProvider) Cleanup(_ context.Context, resources map[string]string) {
	p.step("would delete %s", strings.Join(sortedKeys(resources), ", "))
}

func (p *simulatedProvider) step(format string, args ...any) {
	fmt.Fprintf(p.progress, "[%s] "+format+"\n", append([]any{p.cloud}, args...)...)
}

func writeSampleProject(dir string) error {
	files := map[string]string{
		"package.json": `{
  "name": "demo-api",
  "version": "1.0.0",
  "scripts": {"start": "node server.js"},
  "dependencies": {"express": "^4.19.2"}
}
`,
		"server.js": `const express = require("express");
const app = express();
const PORT = process.env.PORT || 3000;
app.get("/", (req, res) => res.json({ ok: true }));
app.listen(PORT, () => console.log("listening on " + PORT));
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write sample %s: %w", name, err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().String("cloud", "aws", "simulated cloud: aws, gcp or azure")
	demoCmd.Flags().BoolP("yes", "y", false, "approve the plan without prompting")
	demoCmd.Flags().Bool("keep", false, "keep the generated sample project")
}
