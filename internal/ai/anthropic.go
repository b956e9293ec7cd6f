package ai

import (
	"context"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type anthropicBackend struct {
	client *anthropic.Client
	model  string
}

func newAnthropicBackend(cfg ProviderConfig) *anthropicBackend {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &anthropicBackend{client: &client, model: model}
}

func (b *anthropicBackend) Name() string { return "anthropic" }

func (b *anthropicBackend) Stream(ctx context.Context, system string, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(b.model),
			MaxTokens: anthropicMaxTokens,
			Messages:  anthropicMessages(messages),
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		stream := b.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(sanitizeASCII(m.Content))
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
