package cloud_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/cloud/cloudtest"
)

var fastPolicy = cloud.RetryPolicy{
	Backoffs:  []time.Duration{time.Millisecond, time.Millisecond},
	Retryable: cloud.IsTransient,
	Hint: func(stderr string) string {
		return " (hint: check credentials)"
	},
}

func TestRunWithRetry_RetriesTransientFailures(t *testing.T) {
	r := cloudtest.NewRunner(
		cloudtest.Response{
			Match:  "describe",
			Output: cloud.Output{Stderr: "Rate exceeded: rate limit", ExitCode: 1},
			Err:    errors.New("exit status 1"),
			Times:  2,
		},
		cloudtest.OK("describe", "ok"),
	)

	out, err := cloud.RunWithRetry(context.Background(), r, cloud.Command{Name: "aws", Args: []string{"ec2", "describe"}}, fastPolicy)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Stdout)
	assert.Len(t, r.Commands, 3)
}

func TestRunWithRetry_StopsOnPermanentFailure(t *testing.T) {
	r := cloudtest.NewRunner(cloudtest.Fail("create", "AccessDenied: not authorized"))

	_, err := cloud.RunWithRetry(context.Background(), r, cloud.Command{Name: "aws", Args: []string{"s3", "create"}}, fastPolicy)
	require.Error(t, err)
	assert.Len(t, r.Commands, 1)
	assert.Contains(t, err.Error(), "aws command failed")
	assert.Contains(t, err.Error(), "(hint: check credentials)")

	var cmdErr *cloud.CommandError
	assert.True(t, errors.As(err, &cmdErr))
}

func TestRunWithRetry_GivesUpAfterSchedule(t *testing.T) {
	r := cloudtest.NewRunner(cloudtest.Fail("deploy", "503 temporarily unavailable"))

	_, err := cloud.RunWithRetry(context.Background(), r, cloud.Command{Name: "gcloud", Args: []string{"run", "deploy"}}, fastPolicy)
	require.Error(t, err)
	assert.Len(t, r.Commands, 3)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		stderr string
		want   bool
	}{
		{"Throttling: Rate exceeded", true},
		{"HTTP 429 Too Many Requests", true},
		{"RESOURCE_EXHAUSTED: quota", true},
		{"the service is temporarily unavailable", true},
		{"AccessDenied", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cloud.IsTransient(tc.stderr), tc.stderr)
	}
}

func TestCommandString_QuotesArgsWithSpaces(t *testing.T) {
	c := cloud.Command{Name: "aws", Args: []string{"ec2", "create-security-group", "--description", "agent cloud sg"}}
	assert.Equal(t, `aws ec2 create-security-group --description "agent cloud sg"`, c.String())
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := cloud.NewExecRunner(time.Second, nil)
	out, err := r.Run(context.Background(), cloud.Command{Name: "definitely-not-a-cloud-cli"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cloud.ErrNotInstalled)
	assert.Equal(t, -1, out.ExitCode)
}

func TestExecRunner_ExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := cloud.NewExecRunner(5*time.Second, nil)

	out, err := r.Run(context.Background(), cloud.Command{Name: "sh", Args: []string{"-c", "echo out; echo boom >&2; exit 3"}})
	require.Error(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "out\n", out.Stdout)
	assert.Equal(t, "boom", out.Stderr)

	var cmdErr *cloud.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
}

func TestExecRunner_Timeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	r := cloud.NewExecRunner(time.Second, nil)

	_, err := r.Run(context.Background(), cloud.Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	var cmdErr *cloud.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.True(t, cmdErr.TimedOut)
}
