package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// openAIClient speaks the OpenAI chat completions protocol. Ollama and custom
// endpoints reuse it with a different base URL.
type openAIClient struct {
	name        string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func newOpenAI(name, apiKey, baseURL, model string, cfg Config) *openAIClient {
	oc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &openAIClient{
		name:        name,
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

// ollamaAPIBase maps an Ollama server URL to its OpenAI-compatible API root.
func ollamaAPIBase(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (c *openAIClient) Name() string { return c.name }

func (c *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s API call failed: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(c.name + " returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
