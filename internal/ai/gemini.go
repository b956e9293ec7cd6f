package ai

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

type geminiBackend struct {
	client *genai.Client
	model  string
}

func newGeminiBackend(ctx context.Context, cfg ProviderConfig) (*geminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiBackend{client: client, model: model}, nil
}

func (b *geminiBackend) Name() string { return "gemini" }

func (b *geminiBackend) Stream(ctx context.Context, system string, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents := geminiContents(messages)

		var config *genai.GenerateContentConfig
		if system != "" {
			config = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(sanitizeASCII(system), genai.RoleUser),
			}
		}

		for resp, err := range b.client.Models.GenerateContentStream(ctx, b.model, contents, config) {
			if err != nil {
				yield("", fmt.Errorf("failed to generate content with Gemini: %w", err))
				return
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				if !yield(part.Text, nil) {
					return
				}
			}
		}
	}
}

// geminiContents maps the conversation onto Gemini turns; assistant turns use the model role.
func geminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(sanitizeASCII(m.Content), role))
	}
	return contents
}
