// Package deploy holds the values the deployment workflow passes between phases and the
// local project scanner that grounds the analyzer.
package deploy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentcloud/cloud-agent/internal/agent"
)

// Project types recognised by the executor. Anything other than ProjectStatic is deployed
// as managed compute.
const (
	ProjectAPI       = "api"
	ProjectWeb       = "web"
	ProjectStatic    = "static"
	ProjectContainer = "container"
)

type ProjectAnalysis struct {
	ProjectType string   `json:"projectType" yaml:"projectType"`
	Runtime     string   `json:"runtime" yaml:"runtime"`
	Framework   string   `json:"framework,omitempty" yaml:"framework,omitempty"`
	Databases   []string `json:"databases" yaml:"databases"`
	HasDocker   bool     `json:"hasDocker,omitempty" yaml:"hasDocker,omitempty"`
	// Port is the container port the app listens on; zero means unknown.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
}

// DefaultAnalysis is used whenever the analyzer response cannot be parsed.
func DefaultAnalysis() ProjectAnalysis {
	return ProjectAnalysis{
		ProjectType: ProjectAPI,
		Runtime:     "node",
		Framework:   "express",
		Databases:   []string{},
	}
}

// IsStatic reports whether the project is served from object storage.
func (a ProjectAnalysis) IsStatic() bool {
	return strings.EqualFold(strings.TrimSpace(a.ProjectType), ProjectStatic)
}

// ParseAnalysis decodes an analyzer response. On failure it returns DefaultAnalysis together
// with the parse error; partial output is never merged with the default. A response
// without a projectType (including null and {}) counts as a failure.
func ParseAnalysis(text string) (ProjectAnalysis, error) {
	a, err := agent.ParseStructuredResponse[ProjectAnalysis](text)
	if err != nil {
		return DefaultAnalysis(), err
	}
	if strings.TrimSpace(a.ProjectType) == "" {
		return DefaultAnalysis(), fmt.Errorf("analysis has no projectType")
	}
	if a.Databases == nil {
		a.Databases = []string{}
	}
	return a, nil
}

type DeploymentPlan struct {
	Services      []string `json:"services" yaml:"services"`
	EstimatedCost float64  `json:"estimatedCost" yaml:"estimatedCost"`
	Commands      []string `json:"commands" yaml:"commands"`
}

const (
	defaultPlanService = "Cloud Service"
	defaultPlanCost    = 45.00
	defaultPlanCommand = "# Commands will be generated"
)

// DefaultPlan is used whenever the planner response cannot be parsed.
func DefaultPlan() DeploymentPlan {
	return DeploymentPlan{
		Services:      []string{defaultPlanService},
		EstimatedCost: defaultPlanCost,
		Commands:      []string{defaultPlanCommand},
	}
}

type rawPlan struct {
	DeploymentPlans map[string]json.RawMessage `json:"deploymentPlans"`
	Services        json.RawMessage            `json:"services"`
	EstimatedCost   *float64                   `json:"estimatedCost"`
	Commands        []string                   `json:"commands"`
}

// ParsePlan decodes a planner response for cloud. A plan nested under deploymentPlans.<cloud>
// is unwrapped, services may be a list or an object whose compute list is used, and each
// missing field falls back to the DefaultPlan value. An undecodable response yields
// DefaultPlan and the parse error.
func ParsePlan(text, cloud string) (DeploymentPlan, error) {
	raw, err := agent.ParseStructuredResponse[rawPlan](text)
	if err != nil {
		return DefaultPlan(), err
	}
	if nested, ok := raw.DeploymentPlans[cloud]; ok {
		var inner rawPlan
		if err := json.Unmarshal(nested, &inner); err != nil {
			return DefaultPlan(), &agent.ParseError{Raw: text, Err: fmt.Errorf("deploymentPlans.%s: %w", cloud, err)}
		}
		raw = inner
	}

	plan := DefaultPlan()
	if services := decodeServices(raw.Services); len(services) > 0 {
		plan.Services = services
	}
	if raw.EstimatedCost != nil && *raw.EstimatedCost != 0 {
		plan.EstimatedCost = *raw.EstimatedCost
	}
	if len(raw.Commands) > 0 {
		plan.Commands = raw.Commands
	}
	return plan, nil
}

func decodeServices(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	var grouped struct {
		Compute []string `json:"compute"`
	}
	if err := json.Unmarshal(data, &grouped); err == nil {
		return grouped.Compute
	}
	return nil
}

// Validation statuses.
const (
	StatusReady          = "ready"
	StatusNeedsSetup     = "needs_setup"
	StatusPartiallyReady = "partially_ready"
	StatusUnknown        = "unknown"
)

type CheckResult struct {
	Passed  bool   `json:"passed" yaml:"passed"`
	Message string `json:"message" yaml:"message"`
}

type ValidationReport struct {
	Status string                 `json:"status" yaml:"status"`
	Checks map[string]CheckResult `json:"checks" yaml:"checks"`
}

// DefaultValidationReport is used whenever the validator response cannot be parsed.
func DefaultValidationReport() ValidationReport {
	return ValidationReport{Status: StatusUnknown, Checks: map[string]CheckResult{}}
}

// ParseValidation decodes a validator response, falling back to DefaultValidationReport.
func ParseValidation(text string) (ValidationReport, error) {
	r, err := agent.ParseStructuredResponse[ValidationReport](text)
	if err != nil {
		return DefaultValidationReport(), err
	}
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	if r.Checks == nil {
		r.Checks = map[string]CheckResult{}
	}
	return r, nil
}

// Summary is the one-line description shown after the validation phase.
func (r ValidationReport) Summary() string {
	if r.Status == StatusUnknown || r.Status == "" {
		return "Environment checks completed"
	}
	failed := r.FailedChecks()
	if len(failed) == 0 {
		return fmt.Sprintf("Environment %s (%d checks passed)", r.Status, len(r.Checks))
	}
	return fmt.Sprintf("Environment %s (failed: %s)", r.Status, strings.Join(failed, ", "))
}

// FailedChecks returns the names of failed checks in sorted order.
func (r ValidationReport) FailedChecks() []string {
	var failed []string
	for name, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}
