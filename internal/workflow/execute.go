package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/apperrors"
	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// execute provisions the approved plan with exactly one adapter deploy call.
func (w *Workflow) execute(ctx context.Context, log *zap.Logger, r *run) (out Outcome) {
	c := r.Request.Cloud
	defer func() {
		if p := recover(); p != nil {
			log.Error("deployment panicked", zap.Any("panic", p), zap.Stack("stack"))
			err := apperrors.DeploymentFailed(c.String(), fmt.Sprintf("panic: %v", p), nil)
			out = w.finish(log, r, failure(r, "Deployment error: "+err.Error(), err, PhaseFailed), nil)
		}
	}()

	w.progressf("phase 4: deploying to %s...", c.Upper())

	provider, err := w.deps.Providers(ctx, c)
	if err != nil {
		derr := apperrors.DeploymentFailed(c.String(), err.Error(), err)
		return w.finish(log, r, failure(r, "Deployment failed: "+derr.Message, derr, PhaseFailed), nil)
	}

	if !provider.Authenticate(ctx) {
		aerr := apperrors.AuthFailed(c.String())
		log.Warn("cloud authentication failed")
		return w.finish(log, r, failure(r, aerr.Error(), aerr, PhaseFailed), nil)
	}

	opts := w.deploySettings()
	var res cloud.DeploymentResult
	if r.Analysis.IsStatic() {
		buildDir := opts.buildDir
		if !filepath.IsAbs(buildDir) {
			buildDir = filepath.Join(r.Request.ProjectPath, buildDir)
		}
		log.Info("deploying static site", zap.String("build_dir", buildDir))
		res = provider.DeployStaticSite(ctx, cloud.StaticSiteOptions{
			SiteName: opts.appName,
			BuildDir: buildDir,
		})
	} else {
		port := r.Analysis.Port
		if port <= 0 {
			port = c.DefaultContainerPort()
		}
		log.Info("deploying managed compute", zap.Int("port", port), zap.String("image", opts.image))
		res = provider.DeployManagedCompute(ctx, cloud.ManagedComputeOptions{
			AppName:       opts.appName,
			ContainerPort: port,
			DockerImage:   opts.image,
			SourceDir:     r.Request.ProjectPath,
		})
	}

	if !res.Success {
		derr := apperrors.DeploymentFailed(c.String(), res.Error, nil)
		if len(res.Resources) > 0 {
			log.Warn("deployment failed after provisioning some resources", zap.Any("resources", res.Resources))
		}
		return w.finish(log, r, failure(r, "Deployment failed: "+derr.Message, derr, PhaseFailed), nil)
	}

	result := &Result{
		Success:       true,
		DeploymentURL: res.URL,
		Message:       fmt.Sprintf("Deployment to %s completed successfully!", c.Upper()),
		Resources:     res.Resources,
		Phase:         PhaseSucceeded,
	}
	attachRun(result, r)
	cost := r.Plan.EstimatedCost
	return w.finish(log, r, result, &cost)
}

type deployOptions struct {
	appName  string
	buildDir string
	image    string
}

func (w *Workflow) deploySettings() deployOptions {
	opts := deployOptions{appName: DefaultAppName, buildDir: DefaultBuildDir}
	if s := w.deps.Settings; s != nil {
		if s.Deploy.AppName != "" {
			opts.appName = s.Deploy.AppName
		}
		if s.Deploy.BuildDir != "" {
			opts.buildDir = s.Deploy.BuildDir
		}
		opts.image = s.Deploy.DockerImage
	}
	return opts
}
