// Package azure deploys to Microsoft Azure: Container Apps for containers and Blob
// Storage static websites for static sites, through the az CLI.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

const (
	DefaultResourceGroup = "agent-cloud-rg"
	DefaultLocation      = "eastus"
	DefaultEnvironment   = "default-env"

	defaultImage = "mcr.microsoft.com/azuredocs/containerapps-helloworld:latest"
	// Container App names are limited to 32 characters.
	maxAppNameLen = 32
)

type Options struct {
	Subscription  string
	ResourceGroup string
	Location      string
	Logger        *zap.Logger
	Progress      io.Writer
	Now           func() time.Time
	Backoffs      []time.Duration
}

// Provider implements cloud.Provider for Azure.
type Provider struct {
	runner        cloud.Runner
	subscription  string
	resourceGroup string
	location      string
	logger        *zap.Logger
	progress      io.Writer
	now           func() time.Time
	policy        cloud.RetryPolicy
}

var _ cloud.Provider = (*Provider)(nil)

func New(runner cloud.Runner, opts Options) *Provider {
	p := &Provider{
		runner:        runner,
		subscription:  strings.TrimSpace(opts.Subscription),
		resourceGroup: strings.TrimSpace(opts.ResourceGroup),
		location:      strings.TrimSpace(opts.Location),
		logger:        opts.Logger,
		progress:      opts.Progress,
		now:           opts.Now,
		policy: cloud.RetryPolicy{
			Backoffs:  opts.Backoffs,
			Retryable: isRetryableAzError,
			Hint:      azErrorHint,
		},
	}
	if p.resourceGroup == "" {
		p.resourceGroup = DefaultResourceGroup
	}
	if p.location == "" {
		p.location = DefaultLocation
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

// ResolveLocation picks setting (AZURE_LOCATION), then the project preference, then DefaultLocation.
func ResolveLocation(setting, preferred string) string {
	for _, l := range []string{setting, preferred} {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return DefaultLocation
}

func (p *Provider) Name() cloud.Cloud { return cloud.Azure }

func (p *Provider) ResourceGroup() string { return p.resourceGroup }

func (p *Provider) Location() string { return p.location }

type accountInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	User struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"user"`
}

// Authenticate requires a signed-in az user and selects the configured subscription.
func (p *Provider) Authenticate(ctx context.Context) bool {
	out, err := p.exec(ctx, 0, "account", "show", "--output", "json")
	if err != nil {
		p.logger.Warn("az account show failed", zap.Error(err))
		return false
	}
	var acct accountInfo
	if err := json.Unmarshal([]byte(out), &acct); err != nil || acct.User.Name == "" {
		p.logger.Warn("no signed-in azure user", zap.Error(err))
		return false
	}

	if p.subscription != "" {
		if _, err := p.exec(ctx, 0, "account", "set", "--subscription", p.subscription); err != nil {
			p.logger.Warn("failed to select azure subscription", zap.String("subscription", p.subscription), zap.Error(err))
			return false
		}
	}

	p.logger.Info("azure authenticated", zap.String("user", acct.User.Name), zap.String("subscription", acct.Name))
	return true
}

// ensureResourceGroup creates the resource group unless it already exists.
func (p *Provider) ensureResourceGroup(ctx context.Context) error {
	if _, err := p.exec(ctx, 0, "group", "show", "--name", p.resourceGroup, "--output", "json"); err == nil {
		return nil
	}
	p.step("creating resource group %s in %s", p.resourceGroup, p.location)
	_, err := p.exec(ctx, 0, "group", "create", "--name", p.resourceGroup, "--location", p.location, "--output", "json")
	return err
}

// DeployManagedCompute runs the image as an externally reachable Container App.
func (p *Provider) DeployManagedCompute(ctx context.Context, opts cloud.ManagedComputeOptions) cloud.DeploymentResult {
	app := containerAppName(opts.AppName)
	port := opts.ContainerPort
	if port <= 0 {
		port = cloud.Azure.DefaultContainerPort()
	}
	image := opts.DockerImage
	if image == "" {
		image = defaultImage
	}
	resources := map[string]string{}

	if err := p.ensureResourceGroup(ctx); err != nil {
		return cloud.Failed(resources, cloud.StepError("create resource group", err))
	}
	resources["resourceGroup"] = p.resourceGroup

	p.step("preparing Container Apps environment %s", DefaultEnvironment)
	if _, err := p.exec(ctx, cloud.LongTimeout, "containerapp", "env", "create",
		"--name", DefaultEnvironment,
		"--resource-group", p.resourceGroup,
		"--location", p.location,
		"--output", "json"); err != nil {
		if _, showErr := p.exec(ctx, 0, "containerapp", "env", "show",
			"--name", DefaultEnvironment,
			"--resource-group", p.resourceGroup,
			"--output", "json"); showErr != nil {
			return cloud.Failed(resources, cloud.StepError("create environment", err))
		}
	}
	resources["environment"] = DefaultEnvironment

	p.step("creating Container App %s (%s)", app, image)
	fqdn, err := p.exec(ctx, cloud.LongTimeout, "containerapp", "create",
		"--name", app,
		"--resource-group", p.resourceGroup,
		"--environment", DefaultEnvironment,
		"--image", image,
		"--target-port", strconv.Itoa(port),
		"--ingress", "external",
		"--query", "properties.configuration.ingress.fqdn",
		"--output", "tsv")
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("create container app", err))
	}
	resources["containerApp"] = app

	result := cloud.DeploymentResult{Success: true, Resources: resources}
	if fqdn = strings.TrimSpace(fqdn); fqdn != "" {
		result.URL = "https://" + fqdn
	}
	return result
}

// DeployStaticSite creates a StorageV2 account with static website hosting and
// uploads the build directory to its $web container.
func (p *Provider) DeployStaticSite(ctx context.Context, opts cloud.StaticSiteOptions) cloud.DeploymentResult {
	resources := map[string]string{}
	if info, err := os.Stat(opts.BuildDir); err != nil || !info.IsDir() {
		return cloud.Failed(resources, "build directory not found: "+opts.BuildDir)
	}

	if err := p.ensureResourceGroup(ctx); err != nil {
		return cloud.Failed(resources, cloud.StepError("create resource group", err))
	}
	resources["resourceGroup"] = p.resourceGroup

	account := cloud.StorageAccountName(opts.SiteName, p.now())
	p.step("creating storage account %s", account)
	if _, err := p.exec(ctx, cloud.LongTimeout, "storage", "account", "create",
		"--name", account,
		"--resource-group", p.resourceGroup,
		"--location", p.location,
		"--sku", "Standard_LRS",
		"--kind", "StorageV2",
		"--output", "json"); err != nil {
		return cloud.Failed(resources, cloud.StepError("create storage account", err))
	}
	resources["storageAccount"] = account

	p.step("enabling static website")
	if _, err := p.exec(ctx, 0, "storage", "blob", "service-properties", "update",
		"--account-name", account,
		"--static-website",
		"--index-document", "index.html",
		"--404-document", "404.html",
		"--output", "json"); err != nil {
		return cloud.Failed(resources, cloud.StepError("configure website", err))
	}

	p.step("uploading %s", opts.BuildDir)
	if _, err := p.exec(ctx, cloud.LongTimeout, "storage", "blob", "upload-batch",
		"--account-name", account,
		"--destination", "$web",
		"--source", opts.BuildDir,
		"--overwrite",
		"--output", "none"); err != nil {
		return cloud.Failed(resources, cloud.StepError("upload files", err))
	}

	url, err := p.exec(ctx, 0, "storage", "account", "show",
		"--name", account,
		"--resource-group", p.resourceGroup,
		"--query", "primaryEndpoints.web",
		"--output", "tsv")
	if err != nil {
		p.logger.Warn("could not read static website endpoint", zap.String("account", account), zap.Error(err))
	}

	return cloud.DeploymentResult{
		Success:   true,
		Resources: resources,
		URL:       strings.TrimSpace(url),
	}
}

// Cleanup deletes the container app and storage account named in resources. The
// resource group and the shared environment are kept.
func (p *Provider) Cleanup(ctx context.Context, resources map[string]string) {
	rg := resources["resourceGroup"]
	if rg == "" {
		rg = p.resourceGroup
	}
	if app := resources["containerApp"]; app != "" {
		p.bestEffort(ctx, "delete container app "+app,
			"containerapp", "delete", "--name", app, "--resource-group", rg, "--yes")
	}
	if account := resources["storageAccount"]; account != "" {
		p.bestEffort(ctx, "delete storage account "+account,
			"storage", "account", "delete", "--name", account, "--resource-group", rg, "--yes")
	}
}

// CleanupResourceGroup deletes the whole resource group without waiting for completion.
func (p *Provider) CleanupResourceGroup(ctx context.Context, rg string) {
	if rg == "" {
		rg = p.resourceGroup
	}
	p.bestEffort(ctx, "delete resource group "+rg, "group", "delete", "--name", rg, "--yes", "--no-wait")
}

func (p *Provider) bestEffort(ctx context.Context, what string, args ...string) {
	p.step("%s", what)
	if _, err := p.exec(ctx, 0, args...); err != nil {
		p.logger.Warn("azure cleanup step failed", zap.String("step", what), zap.Error(err))
	}
}

func (p *Provider) step(format string, args ...any) {
	fmt.Fprintf(p.progress, "[azure] "+format+"\n", args...)
}

func (p *Provider) exec(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	if !hasFlag(args, "--only-show-errors") {
		args = append(args, "--only-show-errors")
	}
	out, err := cloud.RunWithRetry(ctx, p.runner, cloud.Command{Name: "az", Args: args, Timeout: timeout}, p.policy)
	return out.Stdout, err
}

func containerAppName(name string) string {
	app := cloud.SanitizeName(name)
	if app == "" {
		return "app"
	}
	if len(app) > maxAppNameLen {
		app = strings.TrimRight(app[:maxAppNameLen], "-")
	}
	return app
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name || strings.HasPrefix(a, name+"=") {
			return true
		}
	}
	return false
}

func isRetryableAzError(stderr string) bool {
	if cloud.IsTransient(stderr) {
		return true
	}
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "conflict") && strings.Contains(lower, "in progress")
}

func azErrorHint(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "az login") || strings.Contains(lower, "not logged"):
		return " (hint: run az login)"
	case strings.Contains(lower, "insufficient") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "authorizationfailed"):
		return " (hint: missing RBAC permissions on the subscription/resource group)"
	case strings.Contains(lower, "subscription") && strings.Contains(lower, "not found"):
		return " (hint: subscription id may be incorrect)"
	case strings.Contains(lower, "storageaccountalreadytaken") || strings.Contains(lower, "already taken"):
		return " (hint: storage account names are global, retry to get a new name)"
	case strings.Contains(lower, "missingsubscriptionregistration") || strings.Contains(lower, "not registered"):
		return " (hint: register the resource provider, e.g. az provider register -n Microsoft.App)"
	default:
		return ""
	}
}
