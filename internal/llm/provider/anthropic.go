package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicClient calls the Anthropic Messages API.
type anthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func newAnthropic(apiKey, model string, cfg Config) *anthropicClient {
	return &anthropicClient{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxTokens),
	}
}

func (c *anthropicClient) Name() string { return string(TypeAnthropic) }

func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(c.temperature),
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var parts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("anthropic returned no text content")
	}
	return strings.Join(parts, ""), nil
}
