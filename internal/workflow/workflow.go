// Package workflow runs a deployment from request to recorded outcome: validate the
// environment, analyze the project, plan, suspend for approval, then execute against
// the selected cloud provider. A suspended run is persisted and can be resumed by a
// later process.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/agent"
	"github.com/agentcloud/cloud-agent/internal/apperrors"
	"github.com/agentcloud/cloud-agent/internal/cli"
	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/config"
	"github.com/agentcloud/cloud-agent/internal/deploy"
	"github.com/agentcloud/cloud-agent/internal/history"
	"github.com/agentcloud/cloud-agent/internal/runstore"
)

type Phase string

const (
	PhaseValidating       Phase = "validating"
	PhaseAnalyzing        Phase = "analyzing"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
	PhaseSucceeded        Phase = "succeeded"
	PhaseFailed           Phase = "failed"
	PhaseCancelled        Phase = "cancelled"
)

const (
	SuspendMessage = "Waiting for user approval to proceed with deployment"
	CancelMessage  = "Deployment cancelled by user"

	DefaultAppName  = "agent-cloud-app"
	DefaultBuildDir = "dist"
)

// Request is the immutable input of a run.
type Request struct {
	ProjectPath string      `json:"projectPath" validate:"required,dir"`
	Cloud       cloud.Cloud `json:"cloud" validate:"required,oneof=aws gcp azure"`
}

type ResumeInput struct {
	Approved bool
}

type Kind int

const (
	Suspended Kind = iota + 1
	Completed
)

func (k Kind) String() string {
	switch k {
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Outcome is either a run waiting for approval or a finished run. Exactly one of
// Suspended and Result is set, matching Kind.
type Outcome struct {
	Kind      Kind
	Suspended *SuspendedPayload
	Result    *Result
}

// SuspendedPayload is what the user approves or rejects.
type SuspendedPayload struct {
	RunID         string   `json:"runId"`
	Services      []string `json:"services"`
	EstimatedCost float64  `json:"estimatedCost"`
	Commands      []string `json:"commands"`
	Message       string   `json:"message"`
	ProjectType   string   `json:"projectType,omitempty"`
	Runtime       string   `json:"runtime,omitempty"`
}

// Result is a finished run.
type Result struct {
	Success       bool                    `json:"success"`
	DeploymentURL string                  `json:"deploymentUrl,omitempty"`
	Message       string                  `json:"message"`
	Suggestions   []string                `json:"suggestions,omitempty"`
	Analysis      *deploy.ProjectAnalysis `json:"analysis,omitempty"`
	Plan          *deploy.DeploymentPlan  `json:"plan,omitempty"`
	Resources     map[string]string       `json:"resources,omitempty"`
	Phase         Phase                   `json:"phase"`
	// RecordID is the history record written for the run, empty when none was.
	RecordID string `json:"recordId,omitempty"`
	Err      error  `json:"-"`
}

// Agent produces the full text response for a prompt.
type Agent interface {
	Collect(ctx context.Context, prompt string) (string, error)
}

// EnvironmentChecker runs the local, non-LLM environment checks.
type EnvironmentChecker interface {
	Check(ctx context.Context, c cloud.Cloud) cli.Report
}

// ProviderFactory returns the adapter for a cloud.
type ProviderFactory func(ctx context.Context, c cloud.Cloud) (cloud.Provider, error)

type Dependencies struct {
	Validator Agent
	Analyzer  Agent
	Planner   Agent
	// Checker is optional; its summary grounds the validator prompt.
	Checker   EnvironmentChecker
	Providers ProviderFactory
	History   *history.Store
	Runs      *runstore.Store
	Logger    *zap.Logger
	Settings  *config.Settings
	// Progress receives "[deploy] ..." phase lines; nil discards them.
	Progress io.Writer
}

type Workflow struct {
	deps     Dependencies
	logger   *zap.Logger
	progress io.Writer
	validate *validator.Validate
	scan     func(dir string) (*deploy.ProjectProfile, error)
	now      func() time.Time
	newID    func() string
}

func New(deps Dependencies) *Workflow {
	w := &Workflow{
		deps:     deps,
		logger:   deps.Logger,
		progress: deps.Progress,
		validate: validator.New(),
		scan:     deploy.Scan,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.progress == nil {
		w.progress = io.Discard
	}
	return w
}

// run is the state carried across the suspend boundary.
type run struct {
	ID         string                  `json:"runId"`
	Request    Request                 `json:"request"`
	StartedAt  time.Time               `json:"startedAt"`
	Validation deploy.ValidationReport `json:"validation"`
	Analysis   deploy.ProjectAnalysis  `json:"analysis"`
	Plan       deploy.DeploymentPlan   `json:"plan"`
}

// Start runs the planning phases of a new deployment and suspends for approval.
// It never returns an error; failures are reported in a Completed outcome.
func (w *Workflow) Start(ctx context.Context, req Request) (out Outcome) {
	req, err := w.checkRequest(req)
	if err != nil {
		w.logger.Warn("deployment request rejected", zap.Error(err))
		return completed(&Result{
			Message:     err.Error(),
			Suggestions: apperrors.Suggest(err),
			Phase:       PhaseFailed,
			Err:         err,
		})
	}

	r := &run{ID: w.newID(), Request: req, StartedAt: w.now().UTC()}
	log := w.logger.With(zap.String("run_id", r.ID), zap.String("cloud", req.Cloud.String()))
	log.Info("deployment run started", zap.String("project", req.ProjectPath))

	phase := PhaseValidating
	defer func() {
		if p := recover(); p != nil {
			log.Error("workflow panicked", zap.String("phase", string(phase)), zap.Any("panic", p))
			err := apperrors.PhaseFailed(string(phase), fmt.Errorf("panic: %v", p))
			out = w.finish(log, r, failure(r, "Deployment error: "+err.Error(), err, PhaseFailed), nil)
		}
	}()

	if err := w.validateEnvironment(ctx, log, r); err != nil {
		return w.phaseFailed(log, r, phase, err)
	}

	phase = PhaseAnalyzing
	if err := w.analyzeProject(ctx, log, r); err != nil {
		return w.phaseFailed(log, r, phase, err)
	}

	phase = PhasePlanning
	if err := w.planDeployment(ctx, log, r); err != nil {
		return w.phaseFailed(log, r, phase, err)
	}

	phase = PhaseAwaitingApproval
	if err := w.suspend(ctx, r); err != nil {
		return w.phaseFailed(log, r, phase, err)
	}
	log.Info("deployment run suspended for approval",
		zap.Strings("services", r.Plan.Services),
		zap.Float64("estimated_cost", r.Plan.EstimatedCost))

	return Outcome{
		Kind: Suspended,
		Suspended: &SuspendedPayload{
			RunID:         r.ID,
			Services:      r.Plan.Services,
			EstimatedCost: r.Plan.EstimatedCost,
			Commands:      r.Plan.Commands,
			Message:       SuspendMessage,
			ProjectType:   r.Analysis.ProjectType,
			Runtime:       r.Analysis.Runtime,
		},
	}
}

// Resume consumes a suspended run. Upstream phases and agents are never re-run.
func (w *Workflow) Resume(ctx context.Context, runID string, in ResumeInput) Outcome {
	stored, err := w.deps.Runs.Load(ctx, runID)
	if err == nil {
		err = w.deps.Runs.Delete(ctx, runID)
	}
	if err != nil {
		werr := &apperrors.WorkflowError{
			Step:    "resume",
			Message: fmt.Sprintf("no suspended run with id %s", runID),
			Err:     err,
		}
		if !errors.Is(err, runstore.ErrNotFound) {
			werr.Recoverable = true
		}
		w.logger.Warn("resume failed", zap.String("run_id", runID), zap.Error(err))
		return completed(&Result{Message: werr.Error(), Phase: PhaseFailed, Err: werr})
	}

	var r run
	if err := json.Unmarshal(stored.State, &r); err != nil {
		r = run{ID: stored.ID, Request: Request{ProjectPath: stored.ProjectPath, Cloud: stored.Cloud}, StartedAt: stored.CreatedAt}
		log := w.logger.With(zap.String("run_id", r.ID), zap.String("cloud", r.Request.Cloud.String()))
		werr := apperrors.PhaseFailed("resume", fmt.Errorf("corrupt run state: %w", err))
		return w.finish(log, &r, failure(&r, werr.Error(), werr, PhaseFailed), nil)
	}

	log := w.logger.With(zap.String("run_id", r.ID), zap.String("cloud", r.Request.Cloud.String()))
	if !in.Approved {
		log.Info("deployment rejected by user")
		w.progressf("deployment cancelled")
		return w.finish(log, &r, failure(&r, CancelMessage, nil, PhaseCancelled), nil)
	}

	log.Info("deployment approved")
	return w.execute(ctx, log, &r)
}

func completed(res *Result) Outcome {
	return Outcome{Kind: Completed, Result: res}
}

func (w *Workflow) checkRequest(req Request) (Request, error) {
	rawCloud := string(req.Cloud)
	req.ProjectPath = strings.TrimSpace(req.ProjectPath)
	req.Cloud = cloud.Cloud(strings.ToLower(strings.TrimSpace(string(req.Cloud))))

	if err := w.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return req, err
		}
		fe := verrs[0]
		switch {
		case fe.Field() == "Cloud":
			return req, apperrors.InvalidCloud(rawCloud)
		case fe.Tag() == "required":
			return req, apperrors.MissingProjectPath()
		default:
			return req, apperrors.InvalidProjectPath(req.ProjectPath)
		}
	}

	if abs, err := filepath.Abs(req.ProjectPath); err == nil {
		req.ProjectPath = abs
	}
	return req, nil
}

func (w *Workflow) validateEnvironment(ctx context.Context, log *zap.Logger, r *run) error {
	w.progressf("phase 1: validating %s environment...", r.Request.Cloud.Upper())

	summary := ""
	if w.deps.Checker != nil {
		report := w.deps.Checker.Check(ctx, r.Request.Cloud)
		summary = report.Summary()
		log.Debug("local environment checks", zap.String("status", report.Status))
	}

	text, err := w.deps.Validator.Collect(ctx, agent.ValidationPrompt(r.Request.Cloud.Upper(), summary))
	if err != nil {
		return err
	}
	report, err := deploy.ParseValidation(text)
	if err != nil {
		log.Warn("validator response unparseable, using default report", zap.Error(err))
	}
	r.Validation = report

	log.Info("environment validated",
		zap.String("status", report.Status),
		zap.Strings("failed_checks", report.FailedChecks()))
	w.progressf("%s", report.Summary())
	return nil
}

func (w *Workflow) analyzeProject(ctx context.Context, log *zap.Logger, r *run) error {
	w.progressf("phase 2: analyzing project...")

	profile, scanErr := w.scan(r.Request.ProjectPath)
	summary := ""
	if scanErr != nil {
		log.Warn("local project scan failed", zap.Error(scanErr))
	} else {
		summary = profile.PromptContext()
	}

	text, err := w.deps.Analyzer.Collect(ctx, agent.AnalysisPrompt(r.Request.ProjectPath, summary))
	if err != nil {
		return err
	}
	analysis, err := deploy.ParseAnalysis(text)
	if err != nil {
		log.Warn("analyzer response unparseable, using default analysis", zap.Error(err))
	} else if analysis.Port <= 0 && !analysis.IsStatic() && scanErr == nil && len(profile.Ports) > 0 {
		analysis.Port = profile.Ports[0]
	}
	r.Analysis = analysis

	log.Info("project analyzed",
		zap.String("project_type", analysis.ProjectType),
		zap.String("runtime", analysis.Runtime),
		zap.Strings("databases", analysis.Databases))
	w.progressf("analysis: %s / %s", analysis.ProjectType, analysis.Runtime)
	return nil
}

func (w *Workflow) planDeployment(ctx context.Context, log *zap.Logger, r *run) error {
	w.progressf("phase 3: planning %s deployment...", r.Request.Cloud.Upper())

	prompt := agent.PlanPrompt(r.Analysis.ProjectType, r.Analysis.Runtime, r.Analysis.Databases, r.Request.Cloud.String())
	text, err := w.deps.Planner.Collect(ctx, prompt)
	if err != nil {
		return err
	}
	plan, err := deploy.ParsePlan(text, r.Request.Cloud.String())
	if err != nil {
		log.Warn("planner response unparseable, using default plan", zap.Error(err))
	}
	r.Plan = plan

	log.Info("deployment planned", zap.Int("services", len(plan.Services)), zap.Int("commands", len(plan.Commands)))
	return nil
}

func (w *Workflow) suspend(ctx context.Context, r *run) error {
	state, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	return w.deps.Runs.Save(ctx, runstore.Run{
		ID:          r.ID,
		Cloud:       r.Request.Cloud,
		ProjectPath: r.Request.ProjectPath,
		CreatedAt:   r.StartedAt,
		State:       state,
	})
}

func (w *Workflow) phaseFailed(log *zap.Logger, r *run, phase Phase, err error) Outcome {
	werr := apperrors.PhaseFailed(string(phase), err)
	log.Error("workflow phase failed", zap.String("phase", string(phase)), zap.Error(err))
	return w.finish(log, r, failure(r, werr.Error(), werr, PhaseFailed), nil)
}

// failure builds an unsuccessful result carrying whatever the run had accumulated.
func failure(r *run, message string, err error, phase Phase) *Result {
	res := &Result{
		Message:     message,
		Suggestions: apperrors.Suggest(err),
		Phase:       phase,
		Err:         err,
	}
	attachRun(res, r)
	return res
}

func attachRun(res *Result, r *run) {
	if r.Analysis.ProjectType != "" {
		a := r.Analysis
		res.Analysis = &a
	}
	if len(r.Plan.Services) > 0 || len(r.Plan.Commands) > 0 {
		p := r.Plan
		res.Plan = &p
	}
}

// finish appends the run's single history record and returns the Completed outcome.
func (w *Workflow) finish(log *zap.Logger, r *run, res *Result, cost *float64) Outcome {
	duration := w.now().Sub(r.StartedAt).Milliseconds()

	rec := history.NewRecord{
		Cloud:         r.Request.Cloud,
		ProjectPath:   r.Request.ProjectPath,
		Success:       res.Success,
		DeploymentURL: res.DeploymentURL,
		Duration:      &duration,
	}
	if res.Success {
		rec.Resources = res.Resources
		rec.Cost = cost
	}

	if w.deps.History != nil {
		saved, err := w.deps.History.AddDeployment(rec)
		if err != nil {
			log.Error("failed to record deployment", zap.Error(err))
		} else {
			res.RecordID = saved.ID
		}
	}

	log.Info("deployment run finished",
		zap.String("phase", string(res.Phase)),
		zap.Bool("success", res.Success),
		zap.Int64("duration_ms", duration))
	return completed(res)
}

func (w *Workflow) progressf(format string, args ...any) {
	fmt.Fprintf(w.progress, "[deploy] "+format+"\n", args...)
}
