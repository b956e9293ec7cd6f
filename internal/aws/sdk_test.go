package aws

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/cloud/cloudtest"
)

// isolateSharedConfig points the SDK at temp shared config files.
func isolateSharedConfig(t *testing.T, configBody string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config")
	credPath := filepath.Join(dir, "credentials")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configBody), 0o600))
	require.NoError(t, os.WriteFile(credPath, nil, 0o600))

	t.Setenv("AWS_CONFIG_FILE", cfgPath)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", credPath)
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_SESSION_TOKEN", "")
}

func TestResolveRegion(t *testing.T) {
	isolateSharedConfig(t, "[default]\nregion = eu-central-1\n\n[profile dev]\nregion = ap-south-1\n")
	ctx := context.Background()

	assert.Equal(t, "us-west-2", ResolveRegion(ctx, "us-west-2", "eu-west-1", ""))
	assert.Equal(t, "eu-west-1", ResolveRegion(ctx, "", "eu-west-1", ""))
	assert.Equal(t, "eu-central-1", ResolveRegion(ctx, "", "", ""))
	assert.Equal(t, "ap-south-1", ResolveRegion(ctx, "", "", "dev"))

	t.Setenv("AWS_REGION", "sa-east-1")
	assert.Equal(t, "sa-east-1", ResolveRegion(ctx, "", "", ""))
}

func TestResolveRegion_Default(t *testing.T) {
	isolateSharedConfig(t, "")
	assert.Equal(t, DefaultRegion, ResolveRegion(context.Background(), "", "", ""))
}

func TestLoadSDKConfig_ExportedCredentials(t *testing.T) {
	isolateSharedConfig(t, "[profile dev]\nregion = eu-west-1\n")
	runner := cloudtest.NewRunner(cloudtest.OK("configure export-credentials",
		`{"Version":1,"AccessKeyId":"AKIAEXAMPLE","SecretAccessKey":"secret","SessionToken":"token"}`))

	cfg, err := LoadSDKConfig(context.Background(), runner, "dev", "")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds.AccessKeyID)
	assert.Equal(t, "token", creds.SessionToken)

	require.Len(t, runner.Commands, 1)
	assert.Equal(t, []string{"AWS_PROFILE=dev"}, runner.Commands[0].Env)
	assert.Equal(t, "aws configure export-credentials --profile dev --format process", runner.Lines()[0])
}

func TestLoadSDKConfig_RegionOverride(t *testing.T) {
	isolateSharedConfig(t, "[default]\nregion = eu-central-1\n")

	cfg, err := LoadSDKConfig(context.Background(), nil, "", "us-east-2")
	require.NoError(t, err)
	assert.Equal(t, "us-east-2", cfg.Region)
}

func TestExportCredentials_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := exportCredentials(ctx, cloudtest.NewRunner(cloudtest.Fail("export-credentials", "profile not found")), "x")
	assert.ErrorContains(t, err, "failed to get credentials from AWS CLI")

	_, err = exportCredentials(ctx, cloudtest.NewRunner(cloudtest.OK("export-credentials", "not json")), "x")
	assert.ErrorContains(t, err, "failed to parse")

	_, err = exportCredentials(ctx, cloudtest.NewRunner(cloudtest.OK("export-credentials", `{"Version":1}`)), "x")
	assert.ErrorContains(t, err, "empty credentials")
}
