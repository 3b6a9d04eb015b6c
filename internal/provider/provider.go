// Package provider adapts LLM backends to a single completion interface.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	ErrRateLimit       = errors.New("rate limit exceeded")
	ErrTimeout         = errors.New("request timed out")
	ErrInvalidResponse = errors.New("invalid response from provider")
	ErrUnknownProvider = errors.New("unknown provider type")
)

// Request is a single chat-style completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer generates text completions from a prompt.
type Completer interface {
	// Complete returns the model's text answer for the request.
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterConfig holds configuration for creating a Completer.
type CompleterConfig struct {
	Type   string
	Model  string
	APIKey string
	URL    string
}

// NewCompleter builds the Completer named by cfg.Type.
func NewCompleter(ctx context.Context, cfg CompleterConfig) (Completer, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAICompleter(cfg.APIKey, cfg.Model, cfg.URL), nil
	case "anthropic":
		return NewAnthropicCompleter(cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaCompleter(cfg.URL, cfg.Model), nil
	case "gemini":
		return NewGeminiCompleter(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Type)
	}
}

// statusError maps transport status codes onto the sentinel errors.
func statusError(provider string, status int, err error) error {
	switch status {
	case 429:
		return fmt.Errorf("%w: %s: %v", ErrRateLimit, provider, err)
	case 408, 504:
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	}
	return nil
}
