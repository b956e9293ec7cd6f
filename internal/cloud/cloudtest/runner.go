// Package cloudtest provides a scripted cloud.Runner for adapter tests.
package cloudtest

import (
	"context"
	"strings"
	"sync"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// Response is returned for every command whose argv contains Match.
type Response struct {
	Match  string
	Output cloud.Output
	Err    error
	// Times limits how often the response is used; zero means unlimited.
	Times int
}

// Runner records every command and answers from a list of scripted responses.
// Commands that match nothing succeed with empty output.
type Runner struct {
	mu        sync.Mutex
	responses []*Response
	Commands  []cloud.Command
}

func NewRunner(responses ...Response) *Runner {
	r := &Runner{}
	for i := range responses {
		resp := responses[i]
		r.responses = append(r.responses, &resp)
	}
	return r
}

func (r *Runner) Run(_ context.Context, c cloud.Command) (cloud.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, c)

	line := c.Name + " " + strings.Join(c.Args, " ")
	for _, resp := range r.responses {
		if resp.Times < 0 || !strings.Contains(line, resp.Match) {
			continue
		}
		if resp.Times > 0 {
			resp.Times--
			if resp.Times == 0 {
				resp.Times = -1
			}
		}
		return resp.Output, resp.Err
	}
	return cloud.Output{}, nil
}

// Lines returns the recorded commands as space-joined strings.
func (r *Runner) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Commands))
	for _, c := range r.Commands {
		out = append(out, c.Name+" "+strings.Join(c.Args, " "))
	}
	return out
}

// Ran reports whether any recorded command contains fragment.
func (r *Runner) Ran(fragment string) bool {
	for _, l := range r.Lines() {
		if strings.Contains(l, fragment) {
			return true
		}
	}
	return false
}

// Fail is a convenience for a failing scripted response.
func Fail(match, stderr string) Response {
	return Response{
		Match:  match,
		Output: cloud.Output{Stderr: stderr, ExitCode: 1},
		Err:    &cloud.CommandError{Command: match, ExitCode: 1, Stderr: stderr},
	}
}

// OK is a convenience for a successful scripted response with stdout.
func OK(match, stdout string) Response {
	return Response{Match: match, Output: cloud.Output{Stdout: stdout}}
}
