package agent

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/ai"
)

type echoStreamer struct {
	system   string
	messages []ai.Message
	chunks   []string
	err      error
}

func (s *echoStreamer) Stream(_ context.Context, system string, messages []ai.Message) iter.Seq2[string, error] {
	s.system = system
	s.messages = messages
	return func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

func TestAgentCollect(t *testing.T) {
	s := &echoStreamer{chunks: []string{"{\"status\":", "\"ready\"}"}}
	set := NewSet(s)

	text, err := set.Validator.Collect(context.Background(), "check")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ready"}`, text)
	assert.Equal(t, ValidatorInstructions, s.system)
	require.Len(t, s.messages, 1)
	assert.Equal(t, ai.RoleUser, s.messages[0].Role)
	assert.Equal(t, "check", s.messages[0].Content)
}

func TestAgentCollect_WrapsError(t *testing.T) {
	s := &echoStreamer{err: errors.New("quota")}
	a := New(PlannerName, PlannerInstructions, s)

	_, err := a.Collect(context.Background(), "plan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment-planner: quota")
}

func TestAgentWithoutModel(t *testing.T) {
	a := New(AnalyzerName, AnalyzerInstructions, nil)
	_, err := a.Collect(context.Background(), "x")
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	assert.Equal(t,
		"Validate my AWS environment. Check CLI, auth, env vars, network, and permissions.",
		ValidationPrompt("AWS", ""))
	assert.Contains(t, ValidationPrompt("GCP", "cli: ok"), "Local check results:\ncli: ok")

	assert.Equal(t,
		"Analyze the project at: /tmp/app. Provide JSON with projectType, runtime, framework, databases.",
		AnalysisPrompt("/tmp/app", " "))

	plan := PlanPrompt("", "", nil, "azure")
	assert.Contains(t, plan, "Project Type: api")
	assert.Contains(t, plan, "Runtime: node")
	assert.Contains(t, plan, "Databases: None")
	assert.Contains(t, plan, "Target Cloud: azure")

	assert.Contains(t, PlanPrompt("web", "python", []string{"postgresql", "redis"}, "gcp"), "Databases: postgresql, redis")
}
