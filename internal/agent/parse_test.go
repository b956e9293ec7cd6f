package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestParseStructuredResponse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want sample
	}{
		{
			name: "bare json",
			text: `{"name":"a","items":["x"]}`,
			want: sample{Name: "a", Items: []string{"x"}},
		},
		{
			name: "fenced json with prose",
			text: "Here is the analysis:\n```json\n{\"name\":\"b\"}\n```\nLet me know.",
			want: sample{Name: "b"},
		},
		{
			name: "first fence wins",
			text: "```json\n{\"name\":\"first\"}\n```\n```json\n{\"name\":\"second\"}\n```",
			want: sample{Name: "first"},
		},
		{
			name: "surrounding whitespace",
			text: "\n\n  {\"name\":\"c\"}  \n",
			want: sample{Name: "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStructuredResponse[sample](tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStructuredResponse_Errors(t *testing.T) {
	for _, text := range []string{
		"",
		"I could not analyze the project.",
		"```json\n{\"name\": \n```",
		// A plain fence is not a json fence, so the whole text is decoded.
		"```\n{\"name\":\"x\"}\n```",
	} {
		_, err := ParseStructuredResponse[sample](text)
		require.Error(t, err, text)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, text, pe.Raw)
	}
}
