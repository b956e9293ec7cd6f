// Package agent defines the named LLM agents the deployment workflow consults and the
// helpers that turn their streamed text into structured values.
package agent

import (
	"context"
	"fmt"
	"iter"

	"github.com/agentcloud/cloud-agent/internal/ai"
)

const (
	ValidatorName = "environment-validator"
	AnalyzerName  = "project-analyzer"
	PlannerName   = "deployment-planner"
)

// Agent is a fixed set of instructions bound to a streaming model.
type Agent struct {
	Name         string
	Instructions string
	streamer     ai.Streamer
}

func New(name, instructions string, streamer ai.Streamer) *Agent {
	return &Agent{Name: name, Instructions: instructions, streamer: streamer}
}

// Stream sends prompt as a single user turn.
func (a *Agent) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	if a.streamer == nil {
		return func(yield func(string, error) bool) {
			yield("", fmt.Errorf("agent %s has no model", a.Name))
		}
	}
	return a.streamer.Stream(ctx, a.Instructions, []ai.Message{ai.UserMessage(prompt)})
}

// Collect drains Stream into the full response text.
func (a *Agent) Collect(ctx context.Context, prompt string) (string, error) {
	text, err := ai.Collect(a.Stream(ctx, prompt))
	if err != nil {
		return text, fmt.Errorf("%s: %w", a.Name, err)
	}
	return text, nil
}

// Set groups the three agents the deployment workflow uses.
type Set struct {
	Validator *Agent
	Analyzer  *Agent
	Planner   *Agent
}

// NewSet binds the standard instructions to streamer.
func NewSet(streamer ai.Streamer) Set {
	return Set{
		Validator: New(ValidatorName, ValidatorInstructions, streamer),
		Analyzer:  New(AnalyzerName, AnalyzerInstructions, streamer),
		Planner:   New(PlannerName, PlannerInstructions, streamer),
	}
}
