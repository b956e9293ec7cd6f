package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/agentcloud/cloud-agent/internal/apperrors"
	"github.com/agentcloud/cloud-agent/internal/workflow"
)

var titleCaser = cases.Title(language.English)

// printError writes "Error: <message>", one "  → <suggestion>" line per suggestion and,
// in debug mode, the wrapped cause chain.
func printError(w io.Writer, err error, debug bool) {
	fmt.Fprintf(w, "Error: %s\n", err.Error())
	for _, s := range apperrors.Suggest(err) {
		fmt.Fprintf(w, "  → %s\n", s)
	}
	if !debug {
		return
	}
	depth := 0
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		depth++
		fmt.Fprintf(w, "%scaused by: %s\n", strings.Repeat("  ", depth), cause.Error())
	}
}

func heading(w io.Writer, s string) {
	title := titleCaser.String(s)
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
}

func printPlan(w io.Writer, s *workflow.SuspendedPayload) {
	heading(w, "deployment plan")
	if s.ProjectType != "" {
		fmt.Fprintf(w, "Project:  %s (%s)\n", s.ProjectType, s.Runtime)
	}
	fmt.Fprintf(w, "Services: %s\n", strings.Join(s.Services, ", "))
	fmt.Fprintf(w, "Estimated cost: $%.2f/month\n", s.EstimatedCost)
	if len(s.Commands) > 0 {
		fmt.Fprintln(w, "Commands:")
		for _, c := range s.Commands {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}
	fmt.Fprintf(w, "\n%s (run %s)\n", s.Message, s.RunID)
}

// printResult writes a finished run; a failed run is returned as an error so the
// command exits non-zero.
func printResult(w io.Writer, res *workflow.Result) error {
	if !res.Success {
		if res.Err != nil {
			return &resultError{message: res.Message, err: res.Err}
		}
		return errors.New(res.Message)
	}
	heading(w, string(res.Phase))
	fmt.Fprintln(w, res.Message)
	if res.DeploymentURL != "" {
		fmt.Fprintf(w, "URL: %s\n", res.DeploymentURL)
	}
	if len(res.Resources) > 0 {
		fmt.Fprintln(w, "Resources:")
		for _, k := range sortedKeys(res.Resources) {
			fmt.Fprintf(w, "  %s: %s\n", k, res.Resources[k])
		}
	}
	if res.RecordID != "" {
		fmt.Fprintf(w, "Recorded as %s\n", res.RecordID)
	}
	return nil
}

// resultError shows the workflow's user-facing message while keeping the typed cause
// reachable for suggestions and the debug chain.
type resultError struct {
	message string
	err     error
}

func (e *resultError) Error() string { return e.message }
func (e *resultError) Unwrap() error { return e.err }

// encode writes v as json or yaml.
func encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q (use json or yaml)", format)
	}
}
