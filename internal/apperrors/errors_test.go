package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFailed(t *testing.T) {
	tests := []struct {
		cloud   string
		message string
		first   string
	}{
		{"aws", "AWS authentication failed. Run: aws configure", "Run: aws configure"},
		{"gcp", "GCP authentication failed. Run: gcloud auth login", "Run: gcloud auth login"},
		{"azure", "Azure authentication failed. Run: az login", "Run: az login"},
	}
	for _, tt := range tests {
		t.Run(tt.cloud, func(t *testing.T) {
			err := AuthFailed(tt.cloud)
			assert.Equal(t, tt.cloud, err.Cloud)
			assert.Equal(t, tt.message, err.Error())
			require.Len(t, err.Suggestions(), 3)
			assert.Equal(t, tt.first, err.Suggestions()[0])
		})
	}
}

func TestDeploymentFailed(t *testing.T) {
	cause := errors.New("exit status 254")
	err := DeploymentFailed("gcp", "run deploy: permission denied", cause)

	assert.Equal(t, "GCP_DEPLOYMENT_FAILED", err.Code)
	assert.True(t, err.Recoverable)
	assert.ErrorIs(t, err, cause)
	assert.NotEmpty(t, err.Suggestions())

	assert.Equal(t, "Unknown error", DeploymentFailed("aws", "  ", nil).Message)
}

func TestValidationErrors(t *testing.T) {
	assert.Equal(t, "Invalid cloud provider: heroku. Must be one of: aws, gcp, azure", InvalidCloud("heroku").Error())
	assert.Equal(t, "cloud", InvalidCloud("heroku").Field)
	assert.Equal(t, "Project path is required", MissingProjectPath().Error())
}

func TestSuggest_UnwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("executing: %w", AuthFailed("azure"))
	assert.Equal(t, "Run: az login", Suggest(wrapped)[0])
	assert.Nil(t, Suggest(errors.New("plain")))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(PhaseFailed("analyzing", errors.New("stream closed"))))
	assert.True(t, IsRecoverable(DeploymentFailed("aws", "boom", nil)))
	assert.False(t, IsRecoverable(AuthFailed("aws")))
}

func TestAppError(t *testing.T) {
	err := Wrap(CodeStorage, "failed to write history", errors.New("disk full"))
	assert.Equal(t, "failed to write history: disk full", err.Error())
	assert.Equal(t, "not found", New(CodeNotFound, "not found").Error())
}
