// Package gcp deploys to Google Cloud: Cloud Run for containers and public Cloud Storage
// buckets for static sites, all through the gcloud CLI.
package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// DefaultRegion is used when neither a setting nor a project preference names one.
const DefaultRegion = "us-central1"

type Options struct {
	Project  string
	Region   string
	Logger   *zap.Logger
	Progress io.Writer
	Now      func() time.Time
	Backoffs []time.Duration
}

// Provider implements cloud.Provider for GCP.
type Provider struct {
	runner   cloud.Runner
	project  string
	region   string
	logger   *zap.Logger
	progress io.Writer
	now      func() time.Time
	policy   cloud.RetryPolicy
}

var _ cloud.Provider = (*Provider)(nil)

func New(runner cloud.Runner, opts Options) *Provider {
	p := &Provider{
		runner:   runner,
		project:  strings.TrimSpace(opts.Project),
		region:   strings.TrimSpace(opts.Region),
		logger:   opts.Logger,
		progress: opts.Progress,
		now:      opts.Now,
		policy: cloud.RetryPolicy{
			Backoffs:  opts.Backoffs,
			Retryable: isRetryableGcloudError,
			Hint:      gcloudErrorHint,
		},
	}
	if p.region == "" {
		p.region = DefaultRegion
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.progress == nil {
		p.progress = io.Discard
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// ResolveProject returns the first non-empty of setting and the standard project env vars.
func ResolveProject(setting string) string {
	if v := strings.TrimSpace(setting); v != "" {
		return v
	}
	for _, key := range []string{"GCLOUD_PROJECT", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// ResolveRegion picks setting, then the project preference, then GCLOUD_REGION.
func ResolveRegion(setting, preferred string) string {
	for _, r := range []string{setting, preferred, os.Getenv("GCLOUD_REGION")} {
		if r = strings.TrimSpace(r); r != "" {
			return r
		}
	}
	return DefaultRegion
}

func (p *Provider) Name() cloud.Cloud { return cloud.GCP }

func (p *Provider) Project() string { return p.project }

func (p *Provider) Region() string { return p.region }

type account struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

// Authenticate requires an active gcloud account and a project. Without a configured
// project it falls back to the gcloud core/project property.
func (p *Provider) Authenticate(ctx context.Context) bool {
	out, err := p.exec(ctx, 0, "auth", "list", "--filter=status:ACTIVE", "--format=json")
	if err != nil {
		p.logger.Warn("gcloud auth list failed", zap.Error(err))
		return false
	}
	var accounts []account
	if err := json.Unmarshal([]byte(out), &accounts); err != nil || len(accounts) == 0 {
		p.logger.Warn("no active gcloud account", zap.Error(err))
		return false
	}

	if p.project == "" {
		value, err := p.exec(ctx, 0, "config", "get-value", "project")
		if err == nil {
			p.project = strings.TrimSpace(value)
		}
	}
	if p.project == "" {
		p.logger.Warn("gcp project is not configured")
		return false
	}

	p.logger.Info("gcp authenticated", zap.String("account", accounts[0].Account), zap.String("project", p.project))
	return true
}

// DeployManagedCompute deploys the image to Cloud Run, building it with Cloud Build
// first when none is given.
func (p *Provider) DeployManagedCompute(ctx context.Context, opts cloud.ManagedComputeOptions) cloud.DeploymentResult {
	service := cloud.SanitizeName(opts.AppName)
	if service == "" {
		service = "app"
	}
	port := opts.ContainerPort
	if port <= 0 {
		port = cloud.GCP.DefaultContainerPort()
	}
	resources := map[string]string{"region": p.region}

	image := opts.DockerImage
	if image == "" {
		if p.project == "" {
			return cloud.Failed(resources, "build image: gcp project is not configured")
		}
		image = fmt.Sprintf("gcr.io/%s/%s:latest", p.project, service)
		p.step("building container image %s", image)
		c := p.command(cloud.LongTimeout, "builds", "submit", "--tag", image, ".")
		c.Dir = opts.SourceDir
		if _, err := cloud.RunWithRetry(ctx, p.runner, c, p.policy); err != nil {
			return cloud.Failed(resources, cloud.StepError("build image", err))
		}
	}

	p.step("deploying Cloud Run service %s", service)
	if _, err := p.exec(ctx, cloud.LongTimeout, "run", "deploy", service,
		"--image", image,
		"--platform", "managed",
		"--region", p.region,
		"--port", strconv.Itoa(port),
		"--allow-unauthenticated",
		"--quiet"); err != nil {
		return cloud.Failed(resources, cloud.StepError("deploy service", err))
	}
	resources["service"] = service

	url, err := p.exec(ctx, 0, "run", "services", "describe", service,
		"--platform", "managed",
		"--region", p.region,
		"--format=value(status.url)")
	if err != nil {
		p.logger.Warn("could not read Cloud Run service URL", zap.String("service", service), zap.Error(err))
	}

	return cloud.DeploymentResult{
		Success:   true,
		Resources: resources,
		URL:       strings.TrimSpace(url),
	}
}

// DeployStaticSite creates a public website bucket and uploads the build directory.
func (p *Provider) DeployStaticSite(ctx context.Context, opts cloud.StaticSiteOptions) cloud.DeploymentResult {
	resources := map[string]string{}
	if info, err := os.Stat(opts.BuildDir); err != nil || !info.IsDir() {
		return cloud.Failed(resources, "build directory not found: "+opts.BuildDir)
	}

	bucket := cloud.UniqueName(opts.SiteName, p.now())
	uri := "gs://" + bucket

	p.step("creating bucket %s", bucket)
	if _, err := p.exec(ctx, 0, "storage", "buckets", "create", uri, "--location", p.region, "--uniform-bucket-level-access"); err != nil {
		return cloud.Failed(resources, cloud.StepError("create bucket", err))
	}
	resources["bucket"] = bucket

	p.step("configuring public access")
	if _, err := p.exec(ctx, 0, "storage", "buckets", "add-iam-policy-binding", uri,
		"--member=allUsers", "--role=roles/storage.objectViewer"); err != nil {
		return cloud.Failed(resources, cloud.StepError("grant public read", err))
	}
	if _, err := p.exec(ctx, 0, "storage", "buckets", "update", uri,
		"--web-main-page-suffix=index.html", "--web-error-page=404.html"); err != nil {
		return cloud.Failed(resources, cloud.StepError("configure website", err))
	}

	p.step("uploading %s", opts.BuildDir)
	// gcloud storage expands the wildcard itself.
	if _, err := p.exec(ctx, cloud.LongTimeout, "storage", "cp", "--recursive", filepath.Join(opts.BuildDir, "*"), uri+"/"); err != nil {
		return cloud.Failed(resources, cloud.StepError("upload files", err))
	}

	return cloud.DeploymentResult{
		Success:   true,
		Resources: resources,
		URL:       fmt.Sprintf("https://storage.googleapis.com/%s/index.html", bucket),
	}
}

// Cleanup deletes the Cloud Run service and the bucket named in resources.
func (p *Provider) Cleanup(ctx context.Context, resources map[string]string) {
	region := resources["region"]
	if region == "" {
		region = p.region
	}
	if service := resources["service"]; service != "" {
		p.bestEffort(ctx, "delete service "+service,
			"run", "services", "delete", service, "--platform", "managed", "--region", region, "--quiet")
	}
	if bucket := resources["bucket"]; bucket != "" {
		p.bestEffort(ctx, "delete bucket "+bucket, "storage", "rm", "--recursive", "gs://"+bucket)
	}
}

func (p *Provider) bestEffort(ctx context.Context, what string, args ...string) {
	p.step("%s", what)
	if _, err := p.exec(ctx, 0, args...); err != nil {
		p.logger.Warn("gcp cleanup step failed", zap.String("step", what), zap.Error(err))
	}
}

func (p *Provider) step(format string, args ...any) {
	fmt.Fprintf(p.progress, "[gcp] "+format+"\n", args...)
}

func (p *Provider) command(timeout time.Duration, args ...string) cloud.Command {
	full := append([]string{}, args...)
	if p.project != "" && !hasFlag(args, "--project") {
		full = append(full, "--project", p.project)
	}
	return cloud.Command{Name: "gcloud", Args: full, Timeout: timeout}
}

func (p *Provider) exec(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	out, err := cloud.RunWithRetry(ctx, p.runner, p.command(timeout, args...), p.policy)
	return out.Stdout, err
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name || strings.HasPrefix(a, name+"=") {
			return true
		}
	}
	return false
}

func isRetryableGcloudError(stderr string) bool {
	if cloud.IsTransient(stderr) {
		return true
	}
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "503") || strings.Contains(lower, "try again")
}

func gcloudErrorHint(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "api") && strings.Contains(lower, "not enabled"),
		strings.Contains(lower, "has not been used in project"):
		return " (hint: enable the API for this service)"
	case strings.Contains(lower, "permission") || strings.Contains(lower, "denied"):
		return " (hint: missing IAM permissions or project access)"
	case strings.Contains(lower, "not found") && strings.Contains(lower, "project"):
		return " (hint: project_id may be incorrect)"
	case strings.Contains(lower, "login") || strings.Contains(lower, "auth"):
		return " (hint: run gcloud auth login)"
	case strings.Contains(lower, "billing"):
		return " (hint: billing must be enabled on the project)"
	case strings.Contains(lower, "endpoint") && strings.Contains(lower, "not found"):
		return " (hint: service may not be available in this region)"
	default:
		return ""
	}
}
