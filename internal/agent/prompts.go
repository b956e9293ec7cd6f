package agent

import (
	"fmt"
	"strings"
)

const ValidatorInstructions = `You are a DevOps engineer who validates that a workstation is ready to deploy to a cloud provider.

You receive the results of local checks (CLI installation, authentication, environment variables,
network connectivity and basic permissions). Review them, explain what is wrong and how to fix it.

Respond with JSON only:
{
  "status": "ready" | "needs_setup" | "partially_ready",
  "checks": {
    "cli": {"passed": true, "message": "..."},
    "authentication": {"passed": true, "message": "..."},
    "envVars": {"passed": true, "message": "..."},
    "network": {"passed": true, "message": "..."},
    "permissions": {"passed": true, "message": "..."}
  }
}

Rules:
- Give exact commands to resolve each failed check.
- A failed CLI, authentication or network check blocks deployment.`

const AnalyzerInstructions = `You are a DevOps analyst. Given a project path and the results of a static scan of its files,
determine how the project should be deployed.

Respond with JSON only:
{
  "projectType": "api" | "web" | "static" | "container",
  "runtime": "node" | "python" | "go" | "java" | ...,
  "framework": "express" | "fastapi" | "next.js" | ...,
  "databases": ["postgresql", ...],
  "hasDocker": true | false,
  "port": 3000
}

Rules:
- Prefer facts from the scan over guesses.
- Use "static" only when the project has no server entrypoint.
- Omit port when it cannot be determined.`

const PlannerInstructions = `You are a cloud architect. Given a project analysis and a target cloud, produce a concrete,
cost-aware deployment plan for that cloud.

Respond with JSON only:
{
  "services": ["ECS Fargate", "S3"],
  "estimatedCost": 45.99,
  "commands": ["aws ecs create-cluster ...", "..."]
}

Rules:
- estimatedCost is the monthly cost in USD.
- commands are the vendor CLI steps in execution order.
- Keep the plan minimal: one compute service unless the analysis requires more.`

// ValidationPrompt asks the validator to review the local environment checks.
func ValidationPrompt(cloudUpper, checkSummary string) string {
	prompt := fmt.Sprintf("Validate my %s environment. Check CLI, auth, env vars, network, and permissions.", cloudUpper)
	if strings.TrimSpace(checkSummary) != "" {
		prompt += "\n\nLocal check results:\n" + checkSummary
	}
	return prompt
}

// AnalysisPrompt asks the analyzer to classify the project.
func AnalysisPrompt(projectPath, scanSummary string) string {
	prompt := fmt.Sprintf("Analyze the project at: %s. Provide JSON with projectType, runtime, framework, databases.", projectPath)
	if strings.TrimSpace(scanSummary) != "" {
		prompt += "\n\nStatic scan:\n" + scanSummary
	}
	return prompt
}

// PlanPrompt asks the planner for a plan targeting cloud.
func PlanPrompt(projectType, runtime string, databases []string, cloud string) string {
	if projectType == "" {
		projectType = "api"
	}
	if runtime == "" {
		runtime = "node"
	}
	dbs := "None"
	if len(databases) > 0 {
		dbs = strings.Join(databases, ", ")
	}
	return fmt.Sprintf(`Create a deployment plan for:

Project Type: %s
Runtime: %s
Databases: %s
Target Cloud: %s

Provide JSON with services, estimatedCost, and commands.`, projectType, runtime, dbs, cloud)
}
