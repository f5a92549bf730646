package provider

// Package provider contains the model backends behind llm.Completer.
//
// Supported providers:
//   1. openai: api.openai.com chat completions (go-openai)
//   2. ollama: local Ollama through its OpenAI-compatible /v1 endpoint
//   3. custom: any other OpenAI-compatible endpoint (vLLM, LocalAI, ...)
//   4. anthropic: Messages API (anthropic-sdk-go)
//   5. gemini: Gemini API (google.golang.org/genai)
//
// A provider of "none", or one with missing credentials, yields a nil
// Completer; the workflow then ends every issue in ERROR with
// llm.ErrProviderNotConfigured instead of refusing to start.

import (
	"context"
	"fmt"
	"time"

	"github.com/dr-kube/dr-kube/internal/llm"
)

// Type identifies a configured model provider.
type Type string

const (
	TypeOpenAI    Type = "openai"
	TypeOllama    Type = "ollama"
	TypeCustom    Type = "custom"
	TypeAnthropic Type = "anthropic"
	TypeGemini    Type = "gemini"
	TypeNone      Type = "none"
)

// Default models per provider.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultOllamaModel    = "llama3.2"
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultGeminiModel    = "gemini-2.0-flash"

	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultTemperature   = 0.3
	DefaultMaxTokens     = 4096
)

// Config holds provider settings.
type Config struct {
	Provider    Type
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int

	// Timeout bounds a single completion call. Zero disables it.
	Timeout time.Duration

	// RequestsPerMinute throttles completion calls. Zero disables it.
	RequestsPerMinute int
}

// Valid reports whether t names a known provider.
func Valid(t Type) bool {
	switch t {
	case TypeOpenAI, TypeOllama, TypeCustom, TypeAnthropic, TypeGemini, TypeNone, "":
		return true
	}
	return false
}

// New creates the completer for cfg. It returns (nil, nil) when no provider
// is configured.
func New(ctx context.Context, cfg Config) (llm.Completer, error) {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var (
		c   llm.Completer
		err error
	)
	switch cfg.Provider {
	case "", TypeNone:
		return nil, nil

	case TypeOpenAI:
		if cfg.APIKey == "" {
			return nil, nil
		}
		c = newOpenAI(string(TypeOpenAI), cfg.APIKey, cfg.BaseURL, valueOr(cfg.Model, DefaultOpenAIModel), cfg)

	case TypeOllama:
		base := valueOr(cfg.BaseURL, DefaultOllamaBaseURL)
		c = newOpenAI(string(TypeOllama), "ollama", ollamaAPIBase(base), valueOr(cfg.Model, DefaultOllamaModel), cfg)

	case TypeCustom:
		if cfg.BaseURL == "" {
			return nil, nil
		}
		c = newOpenAI(string(TypeCustom), cfg.APIKey, cfg.BaseURL, cfg.Model, cfg)

	case TypeAnthropic:
		if cfg.APIKey == "" {
			return nil, nil
		}
		c = newAnthropic(cfg.APIKey, valueOr(cfg.Model, DefaultAnthropicModel), cfg)

	case TypeGemini:
		if cfg.APIKey == "" {
			return nil, nil
		}
		c, err = newGemini(ctx, cfg.APIKey, valueOr(cfg.Model, DefaultGeminiModel), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	if cfg.Timeout > 0 {
		c = WithTimeout(c, cfg.Timeout)
	}
	if cfg.RequestsPerMinute > 0 {
		c = RateLimited(c, cfg.RequestsPerMinute)
	}
	return c, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
