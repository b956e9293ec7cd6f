// Package apperrors holds the error taxonomy shared by the workflow, adapters and CLI.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Codes carried by AppError and DeploymentError.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeWorkflow       = "WORKFLOW_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeStorage        = "STORAGE_ERROR"
)

// AppError is a coded error with an optional cause.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// AuthenticationError means the vendor CLI session is missing or invalid.
type AuthenticationError struct {
	Cloud       string
	Message     string
	suggestions []string
}

func (e *AuthenticationError) Error() string        { return e.Message }
func (e *AuthenticationError) Suggestions() []string { return e.suggestions }

// DeploymentError means an adapter operation failed.
type DeploymentError struct {
	Cloud       string
	Code        string
	Message     string
	Recoverable bool
	Err         error
	suggestions []string
}

func (e *DeploymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DeploymentError) Unwrap() error         { return e.Err }
func (e *DeploymentError) Suggestions() []string { return e.suggestions }

// ValidationError means an input was malformed.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// WorkflowError means a named workflow phase failed.
type WorkflowError struct {
	Step        string
	Message     string
	Recoverable bool
	Err         error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *WorkflowError) Unwrap() error { return e.Err }

var displayNames = map[string]string{
	"aws":   "AWS",
	"gcp":   "GCP",
	"azure": "Azure",
}

var loginCommands = map[string]string{
	"aws":   "aws configure",
	"gcp":   "gcloud auth login",
	"azure": "az login",
}

var authSuggestions = map[string][]string{
	"aws": {
		"Run: aws configure",
		"Set access key and secret key",
		"Or use environment variables: AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY",
	},
	"gcp": {
		"Run: gcloud auth login",
		"Or use service account: export GOOGLE_APPLICATION_CREDENTIALS=/path/to/key.json",
		"Set project: gcloud config set project YOUR_PROJECT",
	},
	"azure": {
		"Run: az login",
		"Or use service principal with environment variables",
		"Set subscription: az account set --subscription YOUR_SUBSCRIPTION",
	},
}

var deploySuggestions = map[string][]string{
	"aws": {
		"Check AWS credentials: aws sts get-caller-identity",
		"Verify IAM permissions for ECS, EC2 and S3",
		"Check the service quotas for the selected region",
	},
	"gcp": {
		"Check GCP authentication: gcloud auth list",
		"Enable required APIs: gcloud services enable run.googleapis.com cloudbuild.googleapis.com",
		"Verify billing is enabled for the project",
	},
	"azure": {
		"Check Azure authentication: az account show",
		"Register providers: az provider register --namespace Microsoft.App",
		"Verify the subscription has quota in the selected location",
	},
}

// AuthFailed builds the authentication error for cloud ("aws", "gcp", "azure").
func AuthFailed(cloud string) *AuthenticationError {
	login := loginCommands[cloud]
	name, ok := displayNames[cloud]
	if !ok {
		name = strings.ToUpper(cloud)
	}
	msg := fmt.Sprintf("%s authentication failed", name)
	if login != "" {
		msg += ". Run: " + login
	}
	return &AuthenticationError{
		Cloud:       cloud,
		Message:     msg,
		suggestions: append([]string(nil), authSuggestions[cloud]...),
	}
}

// DeploymentFailed builds the deployment error for cloud. message is the adapter's
// error text; an empty message becomes "Unknown error".
func DeploymentFailed(cloud, message string, err error) *DeploymentError {
	if strings.TrimSpace(message) == "" {
		message = "Unknown error"
	}
	return &DeploymentError{
		Cloud:       cloud,
		Code:        strings.ToUpper(cloud) + "_DEPLOYMENT_FAILED",
		Message:     message,
		Recoverable: true,
		Err:         err,
		suggestions: append([]string(nil), deploySuggestions[cloud]...),
	}
}

func InvalidCloud(value string) *ValidationError {
	return &ValidationError{
		Field:   "cloud",
		Value:   value,
		Message: fmt.Sprintf("Invalid cloud provider: %s. Must be one of: aws, gcp, azure", value),
	}
}

func MissingProjectPath() *ValidationError {
	return &ValidationError{Field: "projectPath", Message: "Project path is required"}
}

func InvalidProjectPath(path string) *ValidationError {
	return &ValidationError{
		Field:   "projectPath",
		Value:   path,
		Message: fmt.Sprintf("Project path does not exist or is not a directory: %s", path),
	}
}

// PhaseFailed wraps a failure of a named workflow step.
func PhaseFailed(step string, err error) *WorkflowError {
	return &WorkflowError{
		Step:        step,
		Message:     fmt.Sprintf("%s phase failed", step),
		Recoverable: true,
		Err:         err,
	}
}

// Suggest returns the remediation steps attached to err, if any.
func Suggest(err error) []string {
	var s interface{ Suggestions() []string }
	if errors.As(err, &s) {
		return s.Suggestions()
	}
	return nil
}

// IsRecoverable reports whether retrying the operation may succeed.
func IsRecoverable(err error) bool {
	var de *DeploymentError
	if errors.As(err, &de) {
		return de.Recoverable
	}
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Recoverable
	}
	return false
}
