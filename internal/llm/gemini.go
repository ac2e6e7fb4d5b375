package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	model  string
	config genai.GenerateContentConfig
}

func newGeminiClient(apiKey, model string, opts *clientOptions) (*geminiClient, error) {
	ctx := context.Background()
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if opts.baseURL != "" {
		config.HTTPOptions.BaseURL = opts.baseURL
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	gen := genai.GenerateContentConfig{}
	if opts.maxTokens > 0 {
		gen.MaxOutputTokens = int32(opts.maxTokens)
	}
	if opts.temperature != nil {
		gen.Temperature = genai.Ptr(*opts.temperature)
	}
	if opts.jsonOutput {
		gen.ResponseMIMEType = "application/json"
	}

	return &geminiClient{client: client, model: model, config: gen}, nil
}

// convertGeminiMessages splits the system prompt out and maps assistant
// turns to the "model" role.
func convertGeminiMessages(messages []Message) (*genai.Content, []*genai.Content) {
	var systemInstruction *genai.Content
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	return systemInstruction, contents
}

func (c *geminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	systemInstruction, contents := convertGeminiMessages(messages)

	hasUserMessage := false
	for _, content := range contents {
		if content.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return "", fmt.Errorf("gemini: conversation has no user turn")
	}

	config := c.config
	config.SystemInstruction = systemInstruction
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &config)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyCompletion)
	}
	return text, nil
}
