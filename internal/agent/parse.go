package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("```json?\\n?([\\s\\S]*?)\\n?```")

// ParseError reports a response that did not contain the expected JSON.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse agent response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON returns the body of the first fenced ```json block, or the whole
// text when there is none.
func ExtractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// ParseStructuredResponse decodes the JSON carried by an agent response into T.
// Callers decide what to substitute on failure.
func ParseStructuredResponse[T any](text string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &v); err != nil {
		var zero T
		return zero, &ParseError{Raw: text, Err: err}
	}
	return v, nil
}
