// Package aws deploys to Amazon Web Services: ECS Fargate for containers and S3 website
// hosting for static sites. Provisioning goes through the aws CLI; the SDK is used for
// region resolution, identity checks and task address lookups.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// DefaultRegion is used when no setting, preference, env var or shared config names one.
const DefaultRegion = "us-east-1"

const defaultImage = "nginx:latest"

// Options configures a Provider.
type Options struct {
	Region  string
	Profile string
	Logger  *zap.Logger
	// Progress receives human-readable step lines; nil discards them.
	Progress io.Writer
	// IPResolver looks up the public address of the running task. Without one the
	// result URL is a placeholder.
	IPResolver PublicIPResolver
	Now        func() time.Time
	Backoffs   []time.Duration
}

// Provider implements cloud.Provider for AWS.
type Provider struct {
	runner   cloud.Runner
	region   string
	profile  string
	logger   *zap.Logger
	progress io.Writer
	resolver PublicIPResolver
	now      func() time.Time
	policy   cloud.RetryPolicy
}

var _ cloud.Provider = (*Provider)(nil)

func New(runner cloud.Runner, opts Options) *Provider {
	p := &Provider{
		runner:   runner,
		region:   opts.Region,
		profile:  opts.Profile,
		logger:   opts.Logger,
		progress: opts.Progress,
		resolver: opts.IPResolver,
		now:      opts.Now,
		policy: cloud.RetryPolicy{
			Backoffs:  opts.Backoffs,
			Retryable: isRetryableAWSError,
			Hint:      awsErrorHint,
		},
	}
	if p.region == "" {
		p.region = DefaultRegion
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.progress == nil {
		p.progress = io.Discard
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *Provider) Name() cloud.Cloud { return cloud.AWS }

func (p *Provider) Region() string { return p.region }

type callerIdentity struct {
	Account string `json:"Account"`
	Arn     string `json:"Arn"`
	UserID  string `json:"UserId"`
}

// Authenticate reports whether the CLI resolves a caller identity.
func (p *Provider) Authenticate(ctx context.Context) bool {
	out, err := p.exec(ctx, 0, "sts", "get-caller-identity", "--output", "json")
	if err != nil {
		p.logger.Warn("aws authentication failed", zap.Error(err))
		return false
	}
	var id callerIdentity
	if err := json.Unmarshal([]byte(out), &id); err != nil {
		p.logger.Warn("failed to parse caller identity", zap.Error(err))
		return false
	}
	if id.Arn == "" {
		return false
	}
	p.logger.Info("aws authenticated", zap.String("arn", id.Arn), zap.String("account", id.Account))
	return true
}

type portMapping struct {
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type containerDefinition struct {
	Name         string        `json:"name"`
	Image        string        `json:"image"`
	PortMappings []portMapping `json:"portMappings"`
	Essential    bool          `json:"essential"`
}

type taskDefinition struct {
	Family                  string                `json:"family"`
	NetworkMode             string                `json:"networkMode"`
	RequiresCompatibilities []string              `json:"requiresCompatibilities"`
	CPU                     string                `json:"cpu"`
	Memory                  string                `json:"memory"`
	ContainerDefinitions    []containerDefinition `json:"containerDefinitions"`
}

func newTaskDefinition(family, container, image string, port int) taskDefinition {
	return taskDefinition{
		Family:                  family,
		NetworkMode:             "awsvpc",
		RequiresCompatibilities: []string{"FARGATE"},
		CPU:                     "256",
		Memory:                  "512",
		ContainerDefinitions: []containerDefinition{{
			Name:         container,
			Image:        image,
			PortMappings: []portMapping{{ContainerPort: port, Protocol: "tcp"}},
			Essential:    true,
		}},
	}
}

// DeployManagedCompute runs the container on ECS Fargate behind a public IP.
func (p *Provider) DeployManagedCompute(ctx context.Context, opts cloud.ManagedComputeOptions) cloud.DeploymentResult {
	app := cloud.SanitizeName(opts.AppName)
	if app == "" {
		app = "app"
	}
	port := opts.ContainerPort
	if port <= 0 {
		port = cloud.AWS.DefaultContainerPort()
	}
	image := opts.DockerImage
	if image == "" {
		image = defaultImage
	}

	cluster := app + "-cluster"
	service := app + "-service"
	family := app + "-task"
	sgName := app + "-sg"
	resources := map[string]string{"region": p.region}

	p.step("creating ECS cluster %s", cluster)
	if _, err := p.exec(ctx, 0, "ecs", "create-cluster", "--cluster-name", cluster, "--output", "json"); err != nil {
		return cloud.Failed(resources, cloud.StepError("create cluster", err))
	}
	resources["cluster"] = cluster

	p.step("registering task definition %s (%s)", family, image)
	def, err := json.Marshal(newTaskDefinition(family, app, image, port))
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("register task definition", err))
	}
	out, err := p.exec(ctx, 0, "ecs", "register-task-definition", "--cli-input-json", string(def), "--output", "json")
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("register task definition", err))
	}
	resources["taskDefinition"] = taskDefinitionRef(out, family)

	p.step("looking up default VPC")
	vpc, err := p.execText(ctx, "ec2", "describe-vpcs", "--filters", "Name=isDefault,Values=true", "--query", "Vpcs[0].VpcId")
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("describe default VPC", err))
	}
	if vpc == "" {
		return cloud.Failed(resources, "describe default VPC: no default VPC in "+p.region)
	}

	subnetsOut, err := p.execText(ctx, "ec2", "describe-subnets", "--filters", "Name=vpc-id,Values="+vpc, "--query", "Subnets[*].SubnetId")
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("describe subnets", err))
	}
	subnets := textFields(subnetsOut)
	if len(subnets) == 0 {
		return cloud.Failed(resources, "describe subnets: default VPC "+vpc+" has no subnets")
	}
	if len(subnets) > 2 {
		subnets = subnets[:2]
	}

	p.step("creating security group %s", sgName)
	sg, err := p.ensureSecurityGroup(ctx, sgName, app, vpc)
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("create security group", err))
	}
	resources["securityGroup"] = sg

	if _, err := p.exec(ctx, 0, "ec2", "authorize-security-group-ingress",
		"--group-id", sg, "--protocol", "tcp", "--port", strconv.Itoa(port), "--cidr", "0.0.0.0/0"); err != nil &&
		!strings.Contains(err.Error(), "InvalidPermission.Duplicate") {
		return cloud.Failed(resources, cloud.StepError("authorize ingress", err))
	}

	p.step("creating ECS service %s", service)
	network := fmt.Sprintf("awsvpcConfiguration={subnets=[%s],securityGroups=[%s],assignPublicIp=ENABLED}",
		strings.Join(subnets, ","), sg)
	_, err = p.exec(ctx, cloud.LongTimeout, "ecs", "create-service",
		"--cluster", cluster,
		"--service-name", service,
		"--task-definition", family,
		"--desired-count", "1",
		"--launch-type", "FARGATE",
		"--network-configuration", network,
		"--output", "json")
	if err != nil && isAlreadyExists(err) {
		p.step("service %s exists, rolling out new task definition", service)
		_, err = p.exec(ctx, cloud.LongTimeout, "ecs", "update-service",
			"--cluster", cluster,
			"--service", service,
			"--task-definition", family,
			"--force-new-deployment",
			"--output", "json")
	}
	if err != nil {
		return cloud.Failed(resources, cloud.StepError("create service", err))
	}
	resources["service"] = service

	return cloud.DeploymentResult{
		Success:   true,
		Resources: resources,
		URL:       p.serviceURL(ctx, cluster, service, port),
	}
}

func (p *Provider) ensureSecurityGroup(ctx context.Context, name, app, vpc string) (string, error) {
	sg, err := p.execText(ctx, "ec2", "create-security-group",
		"--group-name", name,
		"--description", "Security group for "+app,
		"--vpc-id", vpc,
		"--query", "GroupId")
	if err == nil {
		return sg, nil
	}
	if !strings.Contains(err.Error(), "InvalidGroup.Duplicate") {
		return "", err
	}
	sg, lookupErr := p.execText(ctx, "ec2", "describe-security-groups",
		"--filters", "Name=group-name,Values="+name, "Name=vpc-id,Values="+vpc,
		"--query", "SecurityGroups[0].GroupId")
	if lookupErr != nil || sg == "" {
		return "", err
	}
	return sg, nil
}

func (p *Provider) serviceURL(ctx context.Context, cluster, service string, port int) string {
	placeholder := fmt.Sprintf("http://<task-public-ip>:%d", port)
	if p.resolver == nil {
		return placeholder
	}
	ip, err := p.resolver.TaskPublicIP(ctx, cluster, service)
	if err != nil || ip == "" {
		p.logger.Warn("could not resolve task public IP", zap.String("service", service), zap.Error(err))
		return placeholder
	}
	return fmt.Sprintf("http://%s:%d", ip, port)
}

// DeployStaticSite uploads the build directory to a new public S3 website bucket.
func (p *Provider) DeployStaticSite(ctx context.Context, opts cloud.StaticSiteOptions) cloud.DeploymentResult {
	resources := map[string]string{"region": p.region}
	if info, err := os.Stat(opts.BuildDir); err != nil || !info.IsDir() {
		return cloud.Failed(resources, "build directory not found: "+opts.BuildDir)
	}

	bucket := cloud.UniqueName(opts.SiteName, p.now())
	uri := "s3://" + bucket

	p.step("creating bucket %s", bucket)
	if _, err := p.exec(ctx, 0, "s3", "mb", uri); err != nil {
		return cloud.Failed(resources, cloud.StepError("create bucket", err))
	}
	resources["bucket"] = bucket

	p.step("enabling website hosting")
	if _, err := p.exec(ctx, 0, "s3", "website", uri, "--index-document", "index.html", "--error-document", "error.html"); err != nil {
		return cloud.Failed(resources, cloud.StepError("configure website", err))
	}
	if _, err := p.exec(ctx, 0, "s3api", "delete-public-access-block", "--bucket", bucket); err != nil {
		return cloud.Failed(resources, cloud.StepError("remove public access block", err))
	}
	if _, err := p.exec(ctx, 0, "s3api", "put-bucket-policy", "--bucket", bucket, "--policy", publicReadPolicy(bucket)); err != nil {
		return cloud.Failed(resources, cloud.StepError("set bucket policy", err))
	}

	p.step("uploading %s", opts.BuildDir)
	if _, err := p.exec(ctx, cloud.LongTimeout, "s3", "sync", opts.BuildDir, uri, "--delete"); err != nil {
		return cloud.Failed(resources, cloud.StepError("upload files", err))
	}

	return cloud.DeploymentResult{
		Success:   true,
		Resources: resources,
		URL:       fmt.Sprintf("http://%s.s3-website-%s.amazonaws.com", bucket, p.region),
	}
}

type policyStatement struct {
	Sid       string `json:"Sid"`
	Effect    string `json:"Effect"`
	Principal string `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func publicReadPolicy(bucket string) string {
	b, _ := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "PublicReadGetObject",
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:GetObject",
			Resource:  "arn:aws:s3:::" + bucket + "/*",
		}},
	})
	return string(b)
}

// Cleanup removes the service, cluster, security group and bucket named in resources.
// Failures are logged and skipped.
func (p *Provider) Cleanup(ctx context.Context, resources map[string]string) {
	if r := resources["region"]; r != "" && r != p.region {
		scoped := *p
		scoped.region = r
		p = &scoped
	}

	cluster := resources["cluster"]
	if service := resources["service"]; service != "" && cluster != "" {
		p.bestEffort(ctx, "delete service", "ecs", "delete-service", "--cluster", cluster, "--service", service, "--force", "--output", "json")
	}
	if cluster != "" {
		p.bestEffort(ctx, "delete cluster", "ecs", "delete-cluster", "--cluster", cluster, "--output", "json")
	}
	if sg := resources["securityGroup"]; sg != "" {
		p.bestEffort(ctx, "delete security group", "ec2", "delete-security-group", "--group-id", sg)
	}
	if bucket := resources["bucket"]; bucket != "" {
		p.bestEffort(ctx, "delete bucket", "s3", "rb", "s3://"+bucket, "--force")
	}
}

func (p *Provider) bestEffort(ctx context.Context, what string, args ...string) {
	p.step("%s", what)
	if _, err := p.exec(ctx, 0, args...); err != nil {
		p.logger.Warn("aws cleanup step failed", zap.String("step", what), zap.Error(err))
	}
}

func (p *Provider) step(format string, args ...any) {
	fmt.Fprintf(p.progress, "[aws] "+format+"\n", args...)
}

func (p *Provider) command(timeout time.Duration, args ...string) cloud.Command {
	full := append([]string{}, args...)
	if !hasFlag(args, "--region") {
		full = append(full, "--region", p.region)
	}
	if p.profile != "" && !hasFlag(args, "--profile") {
		full = append(full, "--profile", p.profile)
	}
	return cloud.Command{Name: "aws", Args: full, Timeout: timeout}
}

func (p *Provider) exec(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	out, err := cloud.RunWithRetry(ctx, p.runner, p.command(timeout, args...), p.policy)
	if err != nil {
		return out.Stdout, err
	}
	return out.Stdout, nil
}

// execText runs a query with --output text and returns the trimmed value; "None" is empty.
func (p *Provider) execText(ctx context.Context, args ...string) (string, error) {
	out, err := p.exec(ctx, 0, append(args, "--output", "text")...)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(out)
	if v == "None" {
		return "", nil
	}
	return v, nil
}

func taskDefinitionRef(out, family string) string {
	var resp struct {
		TaskDefinition struct {
			TaskDefinitionArn string `json:"taskDefinitionArn"`
		} `json:"taskDefinition"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil || resp.TaskDefinition.TaskDefinitionArn == "" {
		return family
	}
	return resp.TaskDefinition.TaskDefinitionArn
}

func textFields(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if f != "None" {
			out = append(out, f)
		}
	}
	return out
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name || strings.HasPrefix(a, name+"=") {
			return true
		}
	}
	return false
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not idempotent") || strings.Contains(msg, "already exists")
}

func isRetryableAWSError(stderr string) bool {
	if cloud.IsTransient(stderr) {
		return true
	}
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "requestlimitexceeded") ||
		strings.Contains(lower, "slowdown") ||
		strings.Contains(lower, "serviceunavailable")
}

func awsErrorHint(stderr string) string {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "unable to locate credentials"):
		return " (hint: run aws configure)"
	case strings.Contains(lower, "expiredtoken") || strings.Contains(lower, "token has expired"):
		return " (hint: credentials expired, run aws sso login or refresh your keys)"
	case strings.Contains(lower, "accessdenied") || strings.Contains(lower, "unauthorizedoperation") || strings.Contains(lower, "not authorized"):
		return " (hint: missing IAM permissions for this action)"
	case strings.Contains(lower, "bucketalreadyexists"):
		return " (hint: bucket names are global, retry to get a new name)"
	case strings.Contains(lower, "could not connect to the endpoint"):
		return " (hint: region may be incorrect)"
	case strings.Contains(lower, "default vpc"):
		return " (hint: create a default VPC with aws ec2 create-default-vpc)"
	}
	return ""
}
