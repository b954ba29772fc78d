// Package provider selects the language-model backend the resolver and the
// classifier fallback talk to.
package provider

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/yoman/ai/openrouter"
	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
)

// Provider represents an LLM provider type
type Provider string

const (
	// ProviderLocal uses local inference (Ollama, LocalAI)
	ProviderLocal Provider = "local"
	// ProviderOpenRouter uses the OpenRouter.ai API
	ProviderOpenRouter Provider = "openrouter"
)

// AIClient is the one call every backend answers.
type AIClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// ClientFunc adapts a function to AIClient.
type ClientFunc func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)

// Chat calls f.
func (f ClientFunc) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	return f(ctx, req)
}

// ParseProvider converts a configuration string to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or", "":
		return ProviderOpenRouter, nil
	default:
		return "", errors.WithHint(
			errors.Newf("unknown provider: %s", s),
			"valid providers: local, openrouter")
	}
}

// NewAIClient builds the client named by resolver.provider. operationType
// tags the usage rows ("temporal-resolve", "intent-classify").
func NewAIClient(cfg *am.Config, db *sql.DB, log *zap.SugaredLogger, operationType string) (AIClient, error) {
	p, err := ParseProvider(cfg.Resolver.Provider)
	if err != nil {
		return nil, err
	}

	switch p {
	case ProviderLocal:
		if cfg.LocalInference.BaseURL == "" {
			return nil, errors.WithHint(errors.New("local inference selected without a base URL"),
				"set local_inference.base_url, e.g. http://localhost:11434")
		}
		return NewLocalClient(LocalConfig{
			BaseURL:        cfg.LocalInference.BaseURL,
			Model:          cfg.LocalInference.Model,
			TimeoutSeconds: cfg.LocalInference.TimeoutSeconds,
			Temperature:    cfg.GetOpenRouterTemperature(),
			MaxTokens:      cfg.GetOpenRouterMaxTokens(),
			DB:             db,
			Logger:         log,
			OperationType:  operationType,
		}), nil
	default:
		return openrouter.NewClient(openrouter.Config{
			APIKey:        cfg.OpenRouter.APIKey,
			Model:         cfg.OpenRouter.Model,
			Temperature:   cfg.OpenRouter.Temperature,
			MaxTokens:     cfg.OpenRouter.MaxTokens,
			DB:            db,
			Logger:        log,
			OperationType: operationType,
		}), nil
	}
}

var (
	_ AIClient = (*openrouter.Client)(nil)
	_ AIClient = (*LocalClient)(nil)
	_ AIClient = ClientFunc(nil)
)
