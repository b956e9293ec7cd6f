// Package cloud defines the uniform contract every cloud provider adapter implements
// and the argv-based vendor CLI runner they share.
package cloud

import (
	"context"
	"strings"

	"github.com/agentcloud/cloud-agent/internal/apperrors"
)

// Cloud identifies a supported cloud vendor.
type Cloud string

const (
	AWS   Cloud = "aws"
	GCP   Cloud = "gcp"
	Azure Cloud = "azure"
)

// All lists the supported clouds in display order.
var All = []Cloud{AWS, GCP, Azure}

// Parse normalizes s and returns the matching Cloud.
func Parse(s string) (Cloud, error) {
	c := Cloud(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", apperrors.InvalidCloud(s)
	}
	return c, nil
}

func (c Cloud) Valid() bool {
	switch c {
	case AWS, GCP, Azure:
		return true
	}
	return false
}

func (c Cloud) String() string { return string(c) }

// Upper returns the vendor name as shown to users ("AWS", "GCP", "AZURE").
func (c Cloud) Upper() string { return strings.ToUpper(string(c)) }

// CLI returns the vendor CLI binary name.
func (c Cloud) CLI() string {
	switch c {
	case GCP:
		return "gcloud"
	case Azure:
		return "az"
	default:
		return "aws"
	}
}

// DefaultContainerPort is used for managed compute when the analysis reports no port.
func (c Cloud) DefaultContainerPort() int {
	if c == AWS {
		return 3000
	}
	return 8080
}

// Info describes a provider for the info command.
type Info struct {
	Cloud       Cloud
	DisplayName string
	Description string
	RequiresCLI string
	DocsURL     string
	InstallURL  string
}

var catalog = map[Cloud]Info{
	AWS: {
		Cloud:       AWS,
		DisplayName: "Amazon Web Services (AWS)",
		Description: "Industry-leading cloud platform with extensive services",
		RequiresCLI: "aws-cli",
		DocsURL:     "https://aws.amazon.com/cli/",
		InstallURL:  "https://docs.aws.amazon.com/cli/latest/userguide/getting-started-install.html",
	},
	GCP: {
		Cloud:       GCP,
		DisplayName: "Google Cloud Platform (GCP)",
		Description: "Powerful infrastructure with advanced AI/ML capabilities",
		RequiresCLI: "gcloud",
		DocsURL:     "https://cloud.google.com/sdk/gcloud",
		InstallURL:  "https://cloud.google.com/sdk/docs/install",
	},
	Azure: {
		Cloud:       Azure,
		DisplayName: "Microsoft Azure",
		Description: "Enterprise-grade cloud with seamless Microsoft integration",
		RequiresCLI: "az",
		DocsURL:     "https://docs.microsoft.com/cli/azure/",
		InstallURL:  "https://docs.microsoft.com/cli/azure/install-azure-cli",
	},
}

// Describe returns the catalog entry for c.
func Describe(c Cloud) Info {
	return catalog[c]
}

// DeploymentResult is the uniform outcome of a single adapter deploy operation.
type DeploymentResult struct {
	Success   bool              `json:"success"`
	Resources map[string]string `json:"resources"`
	URL       string            `json:"url,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Failed builds an unsuccessful result that keeps whatever was provisioned so far
// so that a later cleanup can still find it.
func Failed(resources map[string]string, errMsg string) DeploymentResult {
	if resources == nil {
		resources = map[string]string{}
	}
	return DeploymentResult{Success: false, Resources: resources, Error: errMsg}
}

type ManagedComputeOptions struct {
	AppName       string
	ContainerPort int
	DockerImage   string
	// SourceDir is the project directory used when an image has to be built first.
	SourceDir string
}

type StaticSiteOptions struct {
	SiteName string
	BuildDir string
}

// Provider is implemented once per cloud vendor. Implementations never return errors from
// deploy operations; failures are reported through DeploymentResult.
type Provider interface {
	Name() Cloud
	Authenticate(ctx context.Context) bool
	DeployManagedCompute(ctx context.Context, opts ManagedComputeOptions) DeploymentResult
	DeployStaticSite(ctx context.Context, opts StaticSiteOptions) DeploymentResult
	Cleanup(ctx context.Context, resources map[string]string)
}
