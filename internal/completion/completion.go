// Package completion hosts the generative-AI providers the bot forwards
// authorized text to.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tg_ai_gate_bot/internal/config"
)

const requestTimeout = 60 * time.Second

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("completion returned no text")

// Provider turns a prompt into a single reply. No streaming.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the provider selected by cfg.AIProvider.
func New(cfg config.Config) (Provider, error) {
	httpClient := &http.Client{Timeout: requestTimeout}

	switch cfg.AIProvider {
	case config.ProviderGemini:
		return NewGemini(cfg.GeminiAPIURL, cfg.GeminiModel, cfg.GeminiAPIKey, httpClient), nil
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIAPIKey, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.AIProvider)
	}
}
