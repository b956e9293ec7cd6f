// Package config reads process settings from flags, the optional YAML config file,
// .env files and the environment into a single Settings value.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces generic overrides, e.g. CLOUD_AGENT_DEPLOY_APP_NAME.
const EnvPrefix = "CLOUD_AGENT"

type Settings struct {
	Debug    bool           `mapstructure:"debug"`
	LogLevel string         `mapstructure:"log_level" validate:"omitempty,oneof=debug info success warn error"`
	AI       AISettings     `mapstructure:"ai"`
	AWS      AWSSettings    `mapstructure:"aws"`
	GCP      GCPSettings    `mapstructure:"gcp"`
	Azure    AzureSettings  `mapstructure:"azure"`
	Deploy   DeploySettings `mapstructure:"deploy"`
}

type AISettings struct {
	// Chain is the backend order; backends without credentials are skipped.
	Chain      []string         `mapstructure:"chain" validate:"dive,oneof=gemini openai anthropic"`
	MaxRetries int              `mapstructure:"max_retries" validate:"gte=0,lte=5"`
	Gemini     ProviderSettings `mapstructure:"gemini"`
	OpenAI     ProviderSettings `mapstructure:"openai"`
	Anthropic  ProviderSettings `mapstructure:"anthropic"`
}

type ProviderSettings struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AWSSettings struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

type GCPSettings struct {
	Project string `mapstructure:"project"`
	Region  string `mapstructure:"region"`
}

type AzureSettings struct {
	Subscription  string `mapstructure:"subscription"`
	ResourceGroup string `mapstructure:"resource_group"`
	Location      string `mapstructure:"location"`
}

type DeploySettings struct {
	AppName        string        `mapstructure:"app_name" validate:"required"`
	BuildDir       string        `mapstructure:"build_dir" validate:"required"`
	DockerImage    string        `mapstructure:"docker_image"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("ai.chain", []string{"gemini", "openai", "anthropic"})
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.gemini.model", "gemini-2.0-flash")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("azure.resource_group", "agent-cloud-rg")
	v.SetDefault("deploy.app_name", "agent-cloud-app")
	v.SetDefault("deploy.build_dir", "dist")
	v.SetDefault("deploy.command_timeout", 30*time.Second)
}

// BindEnv maps the vendor-standard variable names onto settings keys.
func BindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"ai.openai.api_key":    {"OPENAI_API_KEY"},
		"ai.anthropic.api_key": {"ANTHROPIC_API_KEY"},
		"ai.gemini.api_key":    {"GEMINI_API_KEY", "GOOGLE_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY"},
		"aws.region":           {"AWS_REGION", "AWS_DEFAULT_REGION"},
		"aws.profile":          {"AWS_PROFILE"},
		"gcp.project":          {"GCLOUD_PROJECT", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"},
		"gcp.region":           {"GCLOUD_REGION"},
		"azure.subscription":   {"AZURE_SUBSCRIPTION_ID"},
		"azure.resource_group": {"AZURE_RESOURCE_GROUP"},
		"azure.location":       {"AZURE_LOCATION"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// LoadDotEnv loads .env.local and .env from dir. Variables already set in the
// environment win; missing files are not an error.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// Load unmarshals v into Settings and validates the result.
func Load(v *viper.Viper) (*Settings, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.trim()

	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func (s *Settings) trim() {
	s.AI.Gemini.APIKey = strings.TrimSpace(s.AI.Gemini.APIKey)
	s.AI.OpenAI.APIKey = strings.TrimSpace(s.AI.OpenAI.APIKey)
	s.AI.Anthropic.APIKey = strings.TrimSpace(s.AI.Anthropic.APIKey)
	s.AWS.Region = strings.TrimSpace(s.AWS.Region)
	s.GCP.Project = strings.TrimSpace(s.GCP.Project)
	s.GCP.Region = strings.TrimSpace(s.GCP.Region)
	s.Azure.Subscription = strings.TrimSpace(s.Azure.Subscription)
	for i, name := range s.AI.Chain {
		s.AI.Chain[i] = strings.ToLower(strings.TrimSpace(name))
	}
}

// HasAICredentials reports whether at least one LLM backend can be used.
func (s *Settings) HasAICredentials() bool {
	return s.AI.Gemini.APIKey != "" || s.AI.OpenAI.APIKey != "" || s.AI.Anthropic.APIKey != ""
}
