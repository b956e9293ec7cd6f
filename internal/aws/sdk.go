package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// exportedCredentials is the process-format output of aws configure export-credentials.
type exportedCredentials struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration"`
}

// exportCredentials asks the CLI for the profile's credentials, which also covers SSO
// sessions the SDK can't refresh by itself.
func exportCredentials(ctx context.Context, runner cloud.Runner, profile string) (*exportedCredentials, error) {
	out, err := runner.Run(ctx, cloud.Command{
		Name: "aws",
		Args: []string{"configure", "export-credentials", "--profile", profile, "--format", "process"},
		Env:  []string{"AWS_PROFILE=" + profile},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials from AWS CLI: %w", err)
	}
	var creds exportedCredentials
	if err := json.Unmarshal([]byte(out.Stdout), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse AWS CLI credentials response: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, errors.New("AWS CLI returned empty credentials")
	}
	return &creds, nil
}

// LoadSDKConfig builds an SDK config for profile and region. With a profile it first tries
// the CLI-exported credentials and falls back to the shared config chain.
func LoadSDKConfig(ctx context.Context, runner cloud.Runner, profile, region string) (awssdk.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
		if runner != nil {
			if creds, err := exportCredentials(ctx, runner, profile); err == nil {
				opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					creds.AccessKeyID,
					creds.SecretAccessKey,
					creds.SessionToken,
				)))
			}
		}
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		if profile != "" {
			return awssdk.Config{}, fmt.Errorf("unable to load SDK config for profile %s: %w", profile, err)
		}
		return awssdk.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return cfg, nil
}

// ResolveRegion picks the deployment region: setting, project preference, AWS_REGION,
// the shared config for profile, then DefaultRegion.
func ResolveRegion(ctx context.Context, setting, preferred, profile string) string {
	for _, r := range []string{setting, preferred, os.Getenv("AWS_REGION")} {
		if r != "" {
			return r
		}
	}

	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if cfg, err := config.LoadDefaultConfig(ctx, opts...); err == nil && cfg.Region != "" {
		return cfg.Region
	}
	return DefaultRegion
}

// Identity is the caller identity reported by STS.
type Identity struct {
	Account string
	Arn     string
	UserID  string
}

// CallerIdentity verifies the SDK credential chain independently of the CLI.
func CallerIdentity(ctx context.Context, cfg awssdk.Config) (Identity, error) {
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("sts get-caller-identity: %w", err)
	}
	return Identity{
		Account: awssdk.ToString(out.Account),
		Arn:     awssdk.ToString(out.Arn),
		UserID:  awssdk.ToString(out.UserId),
	}, nil
}

// BucketCount lists the account's S3 buckets through the SDK.
func BucketCount(ctx context.Context, cfg awssdk.Config) (int, error) {
	out, err := s3.NewFromConfig(cfg).ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return 0, fmt.Errorf("s3 list-buckets: %w", err)
	}
	return len(out.Buckets), nil
}

// PublicIPResolver finds the public address of a service's running task.
type PublicIPResolver interface {
	TaskPublicIP(ctx context.Context, cluster, service string) (string, error)
}

// TaskIPResolver polls ECS for the service's task and reads the public IP of its ENI.
type TaskIPResolver struct {
	ecs      *ecs.Client
	ec2      *ec2.Client
	attempts int
	interval time.Duration
}

func NewTaskIPResolver(cfg awssdk.Config) *TaskIPResolver {
	return &TaskIPResolver{
		ecs:      ecs.NewFromConfig(cfg),
		ec2:      ec2.NewFromConfig(cfg),
		attempts: 12,
		interval: 5 * time.Second,
	}
}

var errNoTaskIP = errors.New("task has no public IP yet")

func (r *TaskIPResolver) TaskPublicIP(ctx context.Context, cluster, service string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.interval):
			}
		}
		ip, err := r.lookup(ctx, cluster, service)
		if err == nil {
			return ip, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (r *TaskIPResolver) lookup(ctx context.Context, cluster, service string) (string, error) {
	tasks, err := r.ecs.ListTasks(ctx, &ecs.ListTasksInput{
		Cluster:     awssdk.String(cluster),
		ServiceName: awssdk.String(service),
	})
	if err != nil {
		return "", err
	}
	if len(tasks.TaskArns) == 0 {
		return "", errNoTaskIP
	}

	details, err := r.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: awssdk.String(cluster),
		Tasks:   tasks.TaskArns,
	})
	if err != nil {
		return "", err
	}

	var eni string
	for _, task := range details.Tasks {
		for _, att := range task.Attachments {
			for _, kv := range att.Details {
				if awssdk.ToString(kv.Name) == "networkInterfaceId" && awssdk.ToString(kv.Value) != "" {
					eni = awssdk.ToString(kv.Value)
				}
			}
		}
	}
	if eni == "" {
		return "", errNoTaskIP
	}

	nics, err := r.ec2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []string{eni},
	})
	if err != nil {
		return "", err
	}
	for _, nic := range nics.NetworkInterfaces {
		if nic.Association != nil && awssdk.ToString(nic.Association.PublicIp) != "" {
			return awssdk.ToString(nic.Association.PublicIp), nil
		}
	}
	return "", errNoTaskIP
}
