package gcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/cloud/cloudtest"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestProvider(runner cloud.Runner, project string) *Provider {
	return New(runner, Options{
		Project:  project,
		Region:   "europe-west1",
		Now:      func() time.Time { return fixedNow },
		Backoffs: []time.Duration{time.Millisecond},
	})
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name      string
		project   string
		responses []cloudtest.Response
		want      bool
		project2  string
	}{
		{
			name:      "active account and project",
			project:   "shop-prod",
			responses: []cloudtest.Response{cloudtest.OK("auth list", `[{"account":"dev@example.com","status":"ACTIVE"}]`)},
			want:      true,
			project2:  "shop-prod",
		},
		{
			name:      "no active account",
			project:   "shop-prod",
			responses: []cloudtest.Response{cloudtest.OK("auth list", `[]`)},
			project2:  "shop-prod",
		},
		{
			name:    "project from gcloud config",
			project: "",
			responses: []cloudtest.Response{
				cloudtest.OK("auth list", `[{"account":"dev@example.com","status":"ACTIVE"}]`),
				cloudtest.OK("config get-value project", "from-config\n"),
			},
			want:     true,
			project2: "from-config",
		},
		{
			name:      "no project anywhere",
			responses: []cloudtest.Response{cloudtest.OK("auth list", `[{"account":"dev@example.com","status":"ACTIVE"}]`)},
		},
		{
			name:      "cli failure",
			project:   "p",
			responses: []cloudtest.Response{cloudtest.Fail("auth list", "ERROR: (gcloud.auth.list) something broke")},
			project2:  "p",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(cloudtest.NewRunner(tt.responses...), tt.project)
			assert.Equal(t, tt.want, p.Authenticate(context.Background()))
			assert.Equal(t, tt.project2, p.Project())
		})
	}
}

func TestDeployManagedCompute_BuildsImage(t *testing.T) {
	runner := cloudtest.NewRunner(cloudtest.OK("services describe", "https://shop-abc-ew.a.run.app\n"))
	src := t.TempDir()

	res := newTestProvider(runner, "shop-prod").DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{
		AppName:   "shop",
		SourceDir: src,
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]string{"service": "shop", "region": "europe-west1"}, res.Resources)
	assert.Equal(t, "https://shop-abc-ew.a.run.app", res.URL)

	lines := runner.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "gcloud builds submit --tag gcr.io/shop-prod/shop:latest . --project shop-prod", lines[0])
	assert.Equal(t, src, runner.Commands[0].Dir)
	assert.Equal(t, "gcloud run deploy shop --image gcr.io/shop-prod/shop:latest --platform managed --region europe-west1 --port 8080 --allow-unauthenticated --quiet --project shop-prod", lines[1])
	assert.Contains(t, lines[2], "--format=value(status.url)")
}

func TestDeployManagedCompute_PrebuiltImage(t *testing.T) {
	runner := cloudtest.NewRunner()

	res := newTestProvider(runner, "p").DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{
		AppName:       "api",
		DockerImage:   "us-docker.pkg.dev/p/repo/api:v1",
		ContainerPort: 3000,
	})

	require.True(t, res.Success)
	assert.False(t, runner.Ran("builds submit"))
	assert.True(t, runner.Ran("--image us-docker.pkg.dev/p/repo/api:v1"))
	assert.True(t, runner.Ran("--port 3000"))
	assert.Empty(t, res.URL)
}

func TestDeployManagedCompute_Failures(t *testing.T) {
	res := newTestProvider(cloudtest.NewRunner(), "").DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api"})
	assert.False(t, res.Success)
	assert.Equal(t, "build image: gcp project is not configured", res.Error)

	runner := cloudtest.NewRunner(cloudtest.Fail("run deploy", "ERROR: Cloud Run Admin API has not been used in project 123 before or it is disabled."))
	res = newTestProvider(runner, "p").DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api", DockerImage: "img"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "deploy service: ")
	assert.Contains(t, res.Error, "(hint: enable the API for this service)")
	assert.NotContains(t, res.Resources, "service")
}

func TestDeployStaticSite(t *testing.T) {
	build := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(build, "index.html"), []byte("<html></html>"), 0o644))
	runner := cloudtest.NewRunner()

	res := newTestProvider(runner, "p").DeployStaticSite(context.Background(), cloud.StaticSiteOptions{SiteName: "docs", BuildDir: build})

	bucket := cloud.UniqueName("docs", fixedNow)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]string{"bucket": bucket}, res.Resources)
	assert.Equal(t, "https://storage.googleapis.com/"+bucket+"/index.html", res.URL)

	lines := runner.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "gcloud storage buckets create gs://"+bucket+" --location europe-west1 --uniform-bucket-level-access --project p", lines[0])
	assert.Contains(t, lines[1], "add-iam-policy-binding gs://"+bucket+" --member=allUsers --role=roles/storage.objectViewer")
	assert.Contains(t, lines[2], "--web-main-page-suffix=index.html --web-error-page=404.html")
	assert.Equal(t, "gcloud storage cp --recursive "+filepath.Join(build, "*")+" gs://"+bucket+"/ --project p", lines[3])
}

func TestDeployStaticSite_BucketFailure(t *testing.T) {
	build := t.TempDir()
	runner := cloudtest.NewRunner(cloudtest.Fail("buckets create", "HTTPError 403: dev@example.com does not have storage.buckets.create access"))

	res := newTestProvider(runner, "p").DeployStaticSite(context.Background(), cloud.StaticSiteOptions{SiteName: "docs", BuildDir: build})

	assert.False(t, res.Success)
	assert.Empty(t, res.Resources)
	assert.Contains(t, res.Error, "create bucket: ")
	assert.Len(t, runner.Commands, 1)
}

func TestCleanup(t *testing.T) {
	runner := cloudtest.NewRunner(cloudtest.Fail("services delete", "ERROR: service not found"))

	newTestProvider(runner, "p").Cleanup(context.Background(), map[string]string{
		"service": "shop",
		"region":  "us-east1",
		"bucket":  "docs-abc",
	})

	assert.Equal(t, []string{
		"gcloud run services delete shop --platform managed --region us-east1 --quiet --project p",
		"gcloud storage rm --recursive gs://docs-abc --project p",
	}, runner.Lines())
}

func TestResolveProjectAndRegion(t *testing.T) {
	t.Setenv("GCLOUD_PROJECT", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "from-env")
	t.Setenv("GCLOUD_REGION", "")

	assert.Equal(t, "explicit", ResolveProject(" explicit "))
	assert.Equal(t, "from-env", ResolveProject(""))

	assert.Equal(t, "asia-east1", ResolveRegion("asia-east1", "europe-west1"))
	assert.Equal(t, "europe-west1", ResolveRegion("", "europe-west1"))
	assert.Equal(t, DefaultRegion, ResolveRegion("", ""))
	t.Setenv("GCLOUD_REGION", "us-west1")
	assert.Equal(t, "us-west1", ResolveRegion("", ""))
}

func TestGcloudErrorHint(t *testing.T) {
	assert.Equal(t, " (hint: missing IAM permissions or project access)", gcloudErrorHint("PERMISSION_DENIED: caller lacks run.services.create"))
	assert.Equal(t, " (hint: run gcloud auth login)", gcloudErrorHint("You do not currently have an active account selected. Please run: gcloud auth login"))
	assert.True(t, isRetryableGcloudError("RESOURCE_EXHAUSTED: quota"))
	assert.False(t, isRetryableGcloudError("INVALID_ARGUMENT"))
}
