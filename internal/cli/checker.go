// Package cli runs the local, non-LLM environment checks for a cloud and holds the
// interactive helpers the command layer uses.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/cloud"
	"github.com/agentcloud/cloud-agent/internal/deploy"
)

// Check names, as reported to the validator.
const (
	CheckCLI            = "cli"
	CheckAuthentication = "authentication"
	CheckEnvVars        = "envVars"
	CheckNetwork        = "network"
	CheckPermissions    = "permissions"
)

// NetworkTimeout bounds the connectivity probe.
const NetworkTimeout = 5 * time.Second

type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	// Detail carries the version, identity or latency behind Message.
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	Cloud  cloud.Cloud   `json:"cloud"`
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Check returns the named result.
func (r Report) Check(name string) (CheckResult, bool) {
	return lo.Find(r.Checks, func(c CheckResult) bool { return c.Name == name })
}

// Ready is true when the CLI, authentication and network checks passed.
func (r Report) Ready() bool {
	return r.Status == deploy.StatusReady
}

// ValidationReport converts the local results into the validator's report shape.
func (r Report) ValidationReport() deploy.ValidationReport {
	out := deploy.ValidationReport{Status: r.Status, Checks: map[string]deploy.CheckResult{}}
	for _, c := range r.Checks {
		out.Checks[c.Name] = deploy.CheckResult{Passed: c.Passed, Message: c.Message}
	}
	return out
}

// Summary renders one line per check for the validator prompt.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", r.Status)
	for _, c := range r.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "- %s [%s] %s\n", c.Name, mark, c.Message)
	}
	return b.String()
}

var requiredEnv = map[cloud.Cloud][]string{
	cloud.AWS:   {"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"},
	cloud.GCP:   {"GOOGLE_APPLICATION_CREDENTIALS", "GCLOUD_PROJECT"},
	cloud.Azure: {"AZURE_SUBSCRIPTION_ID", "AZURE_TENANT_ID"},
}

var optionalEnv = map[cloud.Cloud][]string{
	cloud.AWS:   {"AWS_REGION", "AWS_DEFAULT_REGION"},
	cloud.GCP:   {"GOOGLE_CLOUD_PROJECT"},
	cloud.Azure: {"AZURE_RESOURCE_GROUP"},
}

var networkEndpoints = map[cloud.Cloud]string{
	cloud.AWS:   "https://aws.amazon.com",
	cloud.GCP:   "https://cloud.google.com",
	cloud.Azure: "https://azure.microsoft.com",
}

// EnvironmentChecker verifies that the workstation can deploy to a cloud.
type EnvironmentChecker struct {
	runner    cloud.Runner
	client    *http.Client
	logger    *zap.Logger
	getenv    func(string) string
	endpoints map[cloud.Cloud]string
}

func NewEnvironmentChecker(runner cloud.Runner, logger *zap.Logger) *EnvironmentChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvironmentChecker{
		runner:    runner,
		client:    &http.Client{Timeout: NetworkTimeout},
		logger:    logger,
		getenv:    os.Getenv,
		endpoints: networkEndpoints,
	}
}

// Check runs every check for c. It never fails; problems are reported per check.
func (e *EnvironmentChecker) Check(ctx context.Context, c cloud.Cloud) Report {
	r := Report{Cloud: c}

	cliResult := e.checkCLI(ctx, c)
	r.Checks = append(r.Checks, cliResult)
	if cliResult.Passed {
		r.Checks = append(r.Checks, e.checkAuth(ctx, c))
	} else {
		r.Checks = append(r.Checks, CheckResult{Name: CheckAuthentication, Message: "Skipped: " + c.CLI() + " is not installed"})
	}
	r.Checks = append(r.Checks, e.checkEnvVars(c), e.checkNetwork(ctx, c))
	if cliResult.Passed {
		r.Checks = append(r.Checks, e.checkPermissions(ctx, c))
	} else {
		r.Checks = append(r.Checks, CheckResult{Name: CheckPermissions, Message: "Skipped: " + c.CLI() + " is not installed"})
	}

	r.Status = overallStatus(r)
	e.logger.Info("environment checked",
		zap.String("cloud", c.String()),
		zap.String("status", r.Status),
		zap.Strings("failed", lo.FilterMap(r.Checks, func(ch CheckResult, _ int) (string, bool) { return ch.Name, !ch.Passed })),
	)
	return r
}

func overallStatus(r Report) string {
	passed := func(name string) bool {
		c, ok := r.Check(name)
		return ok && c.Passed
	}
	switch {
	case passed(CheckCLI) && passed(CheckAuthentication) && passed(CheckNetwork):
		return deploy.StatusReady
	case passed(CheckCLI) && passed(CheckAuthentication):
		return deploy.StatusPartiallyReady
	default:
		return deploy.StatusNeedsSetup
	}
}

func (e *EnvironmentChecker) checkCLI(ctx context.Context, c cloud.Cloud) CheckResult {
	res := CheckResult{Name: CheckCLI}
	out, err := e.runner.Run(ctx, cloud.Command{Name: c.CLI(), Args: []string{"--version"}})
	if err != nil {
		res.Message = fmt.Sprintf("%s is not installed. Install it from %s", c.CLI(), cloud.Describe(c).InstallURL)
		if !errors.Is(err, cloud.ErrNotInstalled) {
			res.Message = fmt.Sprintf("%s --version failed: %v", c.CLI(), err)
		}
		return res
	}
	version := firstLine(out.Stdout)
	if version == "" {
		version = firstLine(out.Stderr)
	}
	res.Passed = true
	res.Detail = version
	res.Message = fmt.Sprintf("%s is installed (%s)", c.CLI(), version)
	return res
}

func (e *EnvironmentChecker) checkAuth(ctx context.Context, c cloud.Cloud) CheckResult {
	res := CheckResult{Name: CheckAuthentication}
	login := map[cloud.Cloud]string{cloud.AWS: "aws configure", cloud.GCP: "gcloud auth login", cloud.Azure: "az login"}[c]

	identity, err := e.identity(ctx, c)
	if err != nil || identity == "" {
		res.Message = fmt.Sprintf("Not authenticated with %s. Run: %s", c.Upper(), login)
		if err != nil {
			e.logger.Debug("identity lookup failed", zap.String("cloud", c.String()), zap.Error(err))
		}
		return res
	}
	res.Passed = true
	res.Detail = identity
	res.Message = "Authenticated as " + identity
	return res
}

type gcloudAccount struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

func (e *EnvironmentChecker) identity(ctx context.Context, c cloud.Cloud) (string, error) {
	switch c {
	case cloud.AWS:
		out, err := e.runner.Run(ctx, cloud.Command{Name: "aws", Args: []string{"sts", "get-caller-identity", "--output", "json"}})
		if err != nil {
			return "", err
		}
		var id struct {
			Arn string `json:"Arn"`
		}
		if err := json.Unmarshal([]byte(out.Stdout), &id); err != nil {
			return "", fmt.Errorf("unexpected sts output: %w", err)
		}
		return id.Arn, nil

	case cloud.GCP:
		out, err := e.runner.Run(ctx, cloud.Command{Name: "gcloud", Args: []string{"auth", "list", "--filter=status:ACTIVE", "--format=json"}})
		if err != nil {
			return "", err
		}
		var accounts []gcloudAccount
		if err := json.Unmarshal([]byte(out.Stdout), &accounts); err != nil {
			return "", fmt.Errorf("unexpected gcloud output: %w", err)
		}
		active, ok := lo.Find(accounts, func(a gcloudAccount) bool { return strings.EqualFold(a.Status, "ACTIVE") })
		if !ok {
			return "", nil
		}
		return active.Account, nil

	case cloud.Azure:
		out, err := e.runner.Run(ctx, cloud.Command{Name: "az", Args: []string{"account", "show", "--output", "json"}})
		if err != nil {
			return "", err
		}
		var acct struct {
			Name string `json:"name"`
			User struct {
				Name string `json:"name"`
			} `json:"user"`
		}
		if err := json.Unmarshal([]byte(out.Stdout), &acct); err != nil {
			return "", fmt.Errorf("unexpected az output: %w", err)
		}
		if acct.User.Name == "" {
			return "", nil
		}
		if acct.Name != "" {
			return fmt.Sprintf("%s (%s)", acct.User.Name, acct.Name), nil
		}
		return acct.User.Name, nil
	}
	return "", fmt.Errorf("unsupported cloud %q", c)
}

func (e *EnvironmentChecker) checkEnvVars(c cloud.Cloud) CheckResult {
	res := CheckResult{Name: CheckEnvVars}
	missing := lo.Filter(requiredEnv[c], func(name string, _ int) bool { return strings.TrimSpace(e.getenv(name)) == "" })
	optionalSet := lo.Filter(optionalEnv[c], func(name string, _ int) bool { return e.getenv(name) != "" })

	if len(missing) == 0 {
		res.Passed = true
		res.Message = "All required environment variables are set"
	} else {
		res.Message = "Missing environment variables: " + strings.Join(missing, ", ")
	}
	if len(optionalSet) > 0 {
		res.Detail = "optional set: " + strings.Join(optionalSet, ", ")
	} else if opt := optionalEnv[c]; len(opt) > 0 {
		res.Detail = "optional: " + strings.Join(opt, ", ")
	}
	return res
}

func (e *EnvironmentChecker) checkNetwork(ctx context.Context, c cloud.Cloud) CheckResult {
	res := CheckResult{Name: CheckNetwork}
	endpoint := e.endpoints[c]

	ctx, cancel := context.WithTimeout(ctx, NetworkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		res.Message = fmt.Sprintf("Invalid endpoint %s: %v", endpoint, err)
		return res
	}
	start := time.Now()
	resp, err := e.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		res.Message = fmt.Sprintf("Cannot reach %s: %v", endpoint, err)
		return res
	}
	resp.Body.Close()

	res.Passed = true
	res.Detail = fmt.Sprintf("%dms", latency.Milliseconds())
	res.Message = fmt.Sprintf("Connection to %s APIs successful (%dms)", c.Upper(), latency.Milliseconds())
	return res
}

var permissionProbes = map[cloud.Cloud]struct {
	cmd        cloud.Command
	ok         string
	suggestion string
}{
	cloud.AWS: {
		cmd:        cloud.Command{Name: "aws", Args: []string{"s3", "ls"}},
		ok:         "User has S3 list permissions",
		suggestion: "User may need IAM permissions for S3 (s3:ListAllMyBuckets)",
	},
	cloud.GCP: {
		cmd:        cloud.Command{Name: "gcloud", Args: []string{"projects", "list", "--limit=1"}},
		ok:         "User has project list permissions",
		suggestion: "User may need resourcemanager.projects.list permission",
	},
	cloud.Azure: {
		cmd:        cloud.Command{Name: "az", Args: []string{"group", "list", "--output", "json"}},
		ok:         "User has resource group list permissions",
		suggestion: "User may need Reader role on subscription",
	},
}

func (e *EnvironmentChecker) checkPermissions(ctx context.Context, c cloud.Cloud) CheckResult {
	res := CheckResult{Name: CheckPermissions}
	probe, ok := permissionProbes[c]
	if !ok {
		res.Message = "Unknown cloud provider"
		return res
	}
	if _, err := e.runner.Run(ctx, probe.cmd); err != nil {
		res.Message = probe.suggestion
		return res
	}
	res.Passed = true
	res.Message = probe.ok
	return res
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
