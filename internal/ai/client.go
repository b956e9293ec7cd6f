// Package ai streams completions from hosted LLM backends. A Client walks an ordered
// chain of backends, retrying each a bounded number of times before falling back.
package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage is a convenience for a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Streamer yields text chunks in order. The sequence ends after the final chunk or after
// a single non-nil error.
type Streamer interface {
	Stream(ctx context.Context, system string, messages []Message) iter.Seq2[string, error]
}

// Backend is one hosted model.
type Backend interface {
	Streamer
	Name() string
}

// ErrNoBackend means no backend in the chain has credentials.
var ErrNoBackend = errors.New("no LLM backend configured: set GEMINI_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY")

type ProviderConfig struct {
	APIKey string
	Model  string
}

type Config struct {
	// Chain lists backend names ("gemini", "openai", "anthropic") in fallback order.
	Chain      []string
	MaxRetries int
	Gemini     ProviderConfig
	OpenAI     ProviderConfig
	Anthropic  ProviderConfig
	Logger     *zap.Logger
}

type Client struct {
	backends   []Backend
	maxRetries int
	backoffs   []time.Duration
	logger     *zap.Logger
}

// NewClient builds the backends named in cfg.Chain that have an API key.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var backends []Backend
	for _, name := range cfg.Chain {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gemini":
			if cfg.Gemini.APIKey == "" {
				continue
			}
			b, err := newGeminiBackend(ctx, cfg.Gemini)
			if err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("gemini backend unavailable", zap.Error(err))
				}
				continue
			}
			backends = append(backends, b)
		case "openai":
			if cfg.OpenAI.APIKey != "" {
				backends = append(backends, newOpenAIBackend(cfg.OpenAI))
			}
		case "anthropic":
			if cfg.Anthropic.APIKey != "" {
				backends = append(backends, newAnthropicBackend(cfg.Anthropic))
			}
		default:
			return nil, fmt.Errorf("unknown LLM backend %q", name)
		}
	}
	if len(backends) == 0 {
		return nil, ErrNoBackend
	}
	return NewClientWithBackends(backends, cfg.MaxRetries, cfg.Logger), nil
}

// NewClientWithBackends wires an explicit chain.
func NewClientWithBackends(backends []Backend, maxRetries int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		backends:   backends,
		maxRetries: maxRetries,
		backoffs:   []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second},
		logger:     logger,
	}
}

// Backends returns the chain names in order.
func (c *Client) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return names
}

// Stream retries a backend that fails before producing output, then falls back to the
// next one. A failure after output has been yielded is returned as-is so that callers
// never see duplicated text.
func (c *Client) Stream(ctx context.Context, system string, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(c.backends) == 0 {
			yield("", ErrNoBackend)
			return
		}

		var lastErr error
		for _, b := range c.backends {
			for attempt := 0; attempt <= c.maxRetries; attempt++ {
				produced := false
				var streamErr error
				for chunk, err := range b.Stream(ctx, system, messages) {
					if err != nil {
						streamErr = err
						break
					}
					produced = true
					if !yield(chunk, nil) {
						return
					}
				}
				if streamErr == nil {
					return
				}
				if produced {
					yield("", fmt.Errorf("%s stream interrupted: %w", b.Name(), streamErr))
					return
				}

				lastErr = fmt.Errorf("%s: %w", b.Name(), streamErr)
				if ctx.Err() != nil {
					yield("", ctx.Err())
					return
				}
				c.logger.Warn("llm stream failed",
					zap.String("backend", b.Name()),
					zap.Int("attempt", attempt+1),
					zap.Error(streamErr),
				)
				if attempt == c.maxRetries {
					break
				}
				if !c.sleep(ctx, attempt) {
					yield("", ctx.Err())
					return
				}
			}
			c.logger.Info("falling back to next llm backend", zap.String("failed", b.Name()))
		}
		yield("", lastErr)
	}
}

func (c *Client) sleep(ctx context.Context, attempt int) bool {
	d := c.backoffs[len(c.backoffs)-1]
	if attempt < len(c.backoffs) {
		d = c.backoffs[attempt]
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Collect drains a stream into a single string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// sanitizeASCII strips non-ASCII runes that some providers reject in prompts.
func sanitizeASCII(s string) string {
	allASCII := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 128 {
			allASCII = false
			break
		}
	}
	if allASCII {
		return s
	}
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < 128 {
			b = append(b, s[i])
		}
	}
	return string(b)
}
