package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// geminiClient calls the Gemini API.
type geminiClient struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func newGemini(ctx context.Context, apiKey, model string, cfg Config) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &geminiClient{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(float32(cfg.Temperature)),
			MaxOutputTokens: int32(cfg.MaxTokens),
		},
	}, nil
}

func (c *geminiClient) Name() string { return string(TypeGemini) }

func (c *geminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.config)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text content")
	}
	return text, nil
}
