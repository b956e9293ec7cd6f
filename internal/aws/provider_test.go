package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/cloud/cloudtest"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestProvider(runner cloud.Runner, opts Options) *Provider {
	if opts.Region == "" {
		opts.Region = "eu-west-1"
	}
	opts.Now = func() time.Time { return fixedNow }
	opts.Backoffs = []time.Duration{time.Millisecond}
	return New(runner, opts)
}

func ecsRunner(extra ...cloudtest.Response) *cloudtest.Runner {
	responses := append(extra,
		cloudtest.OK("register-task-definition", `{"taskDefinition":{"taskDefinitionArn":"arn:aws:ecs:eu-west-1:1:task-definition/shop-task:3"}}`),
		cloudtest.OK("describe-vpcs", "vpc-123\n"),
		cloudtest.OK("describe-subnets", "subnet-a\tsubnet-b\tsubnet-c\n"),
		cloudtest.OK("create-security-group", "sg-42\n"),
	)
	return cloudtest.NewRunner(responses...)
}

func TestAuthenticate(t *testing.T) {
	ok := cloudtest.NewRunner(cloudtest.OK("sts get-caller-identity", `{"Account":"1","Arn":"arn:aws:iam::1:user/dev"}`))
	assert.True(t, newTestProvider(ok, Options{}).Authenticate(context.Background()))
	assert.Equal(t, []string{"aws sts get-caller-identity --output json --region eu-west-1"}, ok.Lines())

	noArn := cloudtest.NewRunner(cloudtest.OK("sts get-caller-identity", `{"Account":"1"}`))
	assert.False(t, newTestProvider(noArn, Options{}).Authenticate(context.Background()))

	failing := cloudtest.NewRunner(cloudtest.Fail("sts", "Unable to locate credentials"))
	assert.False(t, newTestProvider(failing, Options{}).Authenticate(context.Background()))
}

func TestProfileFlag(t *testing.T) {
	runner := cloudtest.NewRunner()
	p := newTestProvider(runner, Options{Profile: "dev"})
	p.Authenticate(context.Background())
	assert.Equal(t, []string{"aws sts get-caller-identity --output json --region eu-west-1 --profile dev"}, runner.Lines())
}

func TestDeployManagedCompute(t *testing.T) {
	runner := ecsRunner()
	var progress bytes.Buffer

	res := newTestProvider(runner, Options{Progress: &progress}).DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{
		AppName:       "Shop",
		ContainerPort: 8080,
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]string{
		"cluster":        "shop-cluster",
		"service":        "shop-service",
		"taskDefinition": "arn:aws:ecs:eu-west-1:1:task-definition/shop-task:3",
		"securityGroup":  "sg-42",
		"region":         "eu-west-1",
	}, res.Resources)
	assert.Equal(t, "http://<task-public-ip>:8080", res.URL)
	assert.Contains(t, progress.String(), "[aws] creating ECS cluster shop-cluster")

	lines := runner.Lines()
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "aws ecs create-cluster --cluster-name shop-cluster"))
	assert.Contains(t, lines[2], "Name=isDefault,Values=true")
	assert.Contains(t, lines[3], "Name=vpc-id,Values=vpc-123")
	assert.Contains(t, lines[4], "--group-name shop-sg --description Security group for shop --vpc-id vpc-123")
	assert.Contains(t, lines[5], "authorize-security-group-ingress --group-id sg-42 --protocol tcp --port 8080 --cidr 0.0.0.0/0")
	assert.Contains(t, lines[6], "awsvpcConfiguration={subnets=[subnet-a,subnet-b],securityGroups=[sg-42],assignPublicIp=ENABLED}")
	assert.Contains(t, lines[6], "--launch-type FARGATE")

	var def taskDefinition
	args := runner.Commands[1].Args
	require.Equal(t, "--cli-input-json", args[2])
	require.NoError(t, json.Unmarshal([]byte(args[3]), &def))
	assert.Equal(t, "shop-task", def.Family)
	assert.Equal(t, "awsvpc", def.NetworkMode)
	assert.Equal(t, []string{"FARGATE"}, def.RequiresCompatibilities)
	assert.Equal(t, "256", def.CPU)
	assert.Equal(t, "512", def.Memory)
	require.Len(t, def.ContainerDefinitions, 1)
	assert.Equal(t, "nginx:latest", def.ContainerDefinitions[0].Image)
	assert.Equal(t, []portMapping{{ContainerPort: 8080, Protocol: "tcp"}}, def.ContainerDefinitions[0].PortMappings)
}

type fakeResolver struct {
	ip  string
	err error
}

func (f fakeResolver) TaskPublicIP(context.Context, string, string) (string, error) { return f.ip, f.err }

func TestDeployManagedCompute_ResolvesURL(t *testing.T) {
	res := newTestProvider(ecsRunner(), Options{IPResolver: fakeResolver{ip: "3.4.5.6"}}).
		DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api"})
	require.True(t, res.Success)
	assert.Equal(t, "http://3.4.5.6:3000", res.URL)

	res = newTestProvider(ecsRunner(), Options{IPResolver: fakeResolver{err: errors.New("no task")}}).
		DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api"})
	require.True(t, res.Success)
	assert.Equal(t, "http://<task-public-ip>:3000", res.URL)
}

func TestDeployManagedCompute_NoDefaultVPC(t *testing.T) {
	runner := cloudtest.NewRunner(cloudtest.OK("describe-vpcs", "None\n"))

	res := newTestProvider(runner, Options{}).DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api"})

	assert.False(t, res.Success)
	assert.Equal(t, "describe default VPC: no default VPC in eu-west-1", res.Error)
	assert.Equal(t, "api-cluster", res.Resources["cluster"])
	assert.False(t, runner.Ran("create-service"))
}

func TestDeployManagedCompute_ExistingResources(t *testing.T) {
	runner := ecsRunner(
		cloudtest.Fail("create-security-group", "An error occurred (InvalidGroup.Duplicate) when calling the CreateSecurityGroup operation"),
		cloudtest.OK("describe-security-groups", "sg-old\n"),
		cloudtest.Fail("authorize-security-group-ingress", "An error occurred (InvalidPermission.Duplicate)"),
		cloudtest.Fail("create-service", "An error occurred (InvalidParameterException): Creation of service was not idempotent."),
	)

	res := newTestProvider(runner, Options{}).DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "sg-old", res.Resources["securityGroup"])
	assert.True(t, runner.Ran("ecs update-service --cluster api-cluster --service api-service --task-definition api-task --force-new-deployment"))
}

func TestDeployManagedCompute_ServiceFailure(t *testing.T) {
	runner := ecsRunner(cloudtest.Fail("create-service", "An error occurred (AccessDeniedException)"))

	res := newTestProvider(runner, Options{}).DeployManagedCompute(context.Background(), cloud.ManagedComputeOptions{AppName: "api"})

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "create service: "))
	assert.Contains(t, res.Error, "(hint: missing IAM permissions for this action)")
	assert.NotContains(t, res.Resources, "service")
}

func TestDeployStaticSite(t *testing.T) {
	build := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(build, "index.html"), []byte("<html></html>"), 0o644))
	runner := cloudtest.NewRunner()

	res := newTestProvider(runner, Options{}).DeployStaticSite(context.Background(), cloud.StaticSiteOptions{
		SiteName: "My Site",
		BuildDir: build,
	})

	bucket := cloud.UniqueName("My Site", fixedNow)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]string{"bucket": bucket, "region": "eu-west-1"}, res.Resources)
	assert.Equal(t, "http://"+bucket+".s3-website-eu-west-1.amazonaws.com", res.URL)

	lines := runner.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, "aws s3 mb s3://"+bucket+" --region eu-west-1", lines[0])
	assert.Contains(t, lines[1], "--index-document index.html --error-document error.html")
	assert.Contains(t, lines[2], "s3api delete-public-access-block --bucket "+bucket)
	assert.Contains(t, lines[3], `"Sid":"PublicReadGetObject"`)
	assert.Contains(t, lines[3], `"Resource":"arn:aws:s3:::`+bucket+`/*"`)
	assert.Equal(t, "aws s3 sync "+build+" s3://"+bucket+" --delete --region eu-west-1", lines[4])
	assert.Equal(t, cloud.LongTimeout, runner.Commands[4].Timeout)
}

func TestDeployStaticSite_MissingBuildDir(t *testing.T) {
	runner := cloudtest.NewRunner()
	missing := filepath.Join(t.TempDir(), "dist")

	res := newTestProvider(runner, Options{}).DeployStaticSite(context.Background(), cloud.StaticSiteOptions{SiteName: "s", BuildDir: missing})

	assert.False(t, res.Success)
	assert.Equal(t, "build directory not found: "+missing, res.Error)
	assert.Empty(t, runner.Commands)
}

func TestCleanup(t *testing.T) {
	runner := cloudtest.NewRunner(cloudtest.Fail("delete-cluster", "ClusterContainsServicesException"))

	newTestProvider(runner, Options{}).Cleanup(context.Background(), map[string]string{
		"cluster":       "api-cluster",
		"service":       "api-service",
		"securityGroup": "sg-1",
		"bucket":        "site-abc",
		"region":        "us-west-2",
	})

	lines := runner.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "aws ecs delete-service --cluster api-cluster --service api-service --force --output json --region us-west-2", lines[0])
	assert.Contains(t, lines[1], "ecs delete-cluster --cluster api-cluster")
	assert.Contains(t, lines[2], "ec2 delete-security-group --group-id sg-1")
	assert.Equal(t, "aws s3 rb s3://site-abc --force --region us-west-2", lines[3])
}

func TestCleanup_Empty(t *testing.T) {
	runner := cloudtest.NewRunner()
	newTestProvider(runner, Options{}).Cleanup(context.Background(), map[string]string{})
	assert.Empty(t, runner.Commands)
}

func TestRetryableAndHints(t *testing.T) {
	assert.True(t, isRetryableAWSError("An error occurred (RequestLimitExceeded)"))
	assert.True(t, isRetryableAWSError("An error occurred (Throttling): Rate exceeded"))
	assert.True(t, isRetryableAWSError("An error occurred (SlowDown)"))
	assert.False(t, isRetryableAWSError("An error occurred (AccessDenied)"))

	assert.Equal(t, " (hint: run aws configure)", awsErrorHint("Unable to locate credentials. You can configure credentials by running \"aws configure\"."))
	assert.Equal(t, " (hint: bucket names are global, retry to get a new name)", awsErrorHint("BucketAlreadyExists"))
	assert.Empty(t, awsErrorHint("something else"))
}
