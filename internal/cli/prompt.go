package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a yes/no question on out and reads the answer from in.
// Anything other than y/yes, including end of input, is a no.
func Confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "%s [y/N]: ", question)

	response, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.TrimSpace(strings.ToLower(response)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// PrintReport writes the environment check results.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintf(w, "\n%s environment: %s\n", r.Cloud.Upper(), r.Status)
	fmt.Fprintln(w, strings.Repeat("-", 24))

	for _, c := range r.Checks {
		icon := "+"
		if !c.Passed {
			icon = "-"
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", icon, c.Name, c.Message)
		if c.Detail != "" && c.Passed {
			fmt.Fprintf(w, "      %s\n", c.Detail)
		}
	}

	if c, ok := r.Check(CheckCLI); ok && !c.Passed {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Install %s:\n", r.Cloud.CLI())
		for _, step := range InstallInstructions(r.Cloud) {
			fmt.Fprintf(w, "  %s\n", step)
		}
	}
	fmt.Fprintln(w)
}
