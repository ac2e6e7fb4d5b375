package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultMaxTokens = 1024

// ErrEmptyCompletion is returned when a provider answers without text.
var ErrEmptyCompletion = errors.New("empty completion")

type Message struct {
	Role    string
	Content string
}

// Client produces one completion for a chat history.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, messages []Message) (string, error)

func (f ClientFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	maxTokens   int
	temperature *float32
	jsonOutput  bool
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the length of each completion.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithTemperature(t float32) Option {
	return func(o *clientOptions) {
		o.temperature = &t
	}
}

// WithJSONOutput asks the provider for a single JSON object. Used for
// result evaluation, where free text cannot be parsed.
func WithJSONOutput() Option {
	return func(o *clientOptions) {
		o.jsonOutput = true
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// NewFromModel parses a provider/model string and builds the client with
// the key returned by keyFor.
func NewFromModel(model string, keyFor func(provider string) string, opts ...Option) (Client, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	key := keyFor(provider)
	if key == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", provider)
	}
	return NewClient(provider, key, name, opts...)
}
