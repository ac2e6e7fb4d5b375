package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature *float32
	jsonOutput  bool
}

// jsonPrefill starts the assistant turn so the model continues an object.
const jsonPrefill = "{"

func newAnthropicClient(apiKey, model string, opts *clientOptions) (*anthropicClient, error) {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.baseURL))
	}

	maxTokens := int64(opts.maxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &anthropicClient{
		client:      anthropic.NewClient(clientOpts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: opts.temperature,
		jsonOutput:  opts.jsonOutput,
	}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var systemBlocks []anthropic.TextBlockParam
	var chatMessages []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			chatMessages = append(chatMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	if c.jsonOutput {
		chatMessages = append(chatMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(jsonPrefill)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    systemBlocks,
		Messages:  chatMessages,
	}
	if c.temperature != nil {
		params.Temperature = anthropic.Float(float64(*c.temperature))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var b strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	result := strings.TrimSpace(b.String())
	if result == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyCompletion)
	}
	if c.jsonOutput && !strings.HasPrefix(result, jsonPrefill) {
		result = jsonPrefill + result
	}
	return result, nil
}
