package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/yoman/ai/openrouter"
	"github.com/teranos/yoman/am"
	yomantest "github.com/teranos/yoman/internal/testing"
)

func TestParseProvider(t *testing.T) {
	tests := map[string]Provider{
		"local":      ProviderLocal,
		"Ollama":     ProviderLocal,
		"openrouter": ProviderOpenRouter,
		" or ":       ProviderOpenRouter,
		"":           ProviderOpenRouter,
	}
	for in, want := range tests {
		got, err := ParseProvider(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProvider("anthropic")
	assert.Error(t, err)
}

func TestNewAIClient(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	cfg := &am.Config{}
	cfg.Resolver.Provider = "openrouter"
	c, err := NewAIClient(cfg, nil, log, "temporal-resolve")
	require.NoError(t, err)
	assert.IsType(t, &openrouter.Client{}, c)

	cfg.Resolver.Provider = "local"
	cfg.LocalInference.BaseURL = "http://localhost:11434"
	c, err = NewAIClient(cfg, nil, log, "temporal-resolve")
	require.NoError(t, err)
	assert.IsType(t, &LocalClient{}, c)

	cfg.LocalInference.BaseURL = ""
	_, err = NewAIClient(cfg, nil, log, "temporal-resolve")
	assert.Error(t, err)

	cfg.Resolver.Provider = "mystery"
	_, err = NewAIClient(cfg, nil, log, "temporal-resolve")
	assert.Error(t, err)
}

func TestLocalClientChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body localRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3.2:3b", body.Model)
		assert.False(t, body.Stream)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		require.NotNil(t, body.ResponseFormat)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"ok\":true} "}}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`))
	}))
	defer srv.Close()

	conn := yomantest.CreateTestDB(t)
	c := NewLocalClient(LocalConfig{
		BaseURL:       srv.URL + "/",
		Model:         "llama3.2:3b",
		DB:            conn,
		Logger:        zaptest.NewLogger(t).Sugar(),
		OperationType: "temporal-resolve",
	})

	resp, err := c.Chat(context.Background(), openrouter.ChatRequest{
		SystemPrompt: "json only",
		UserPrompt:   "tomorrow",
		JSONMode:     true,
		UserID:       "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 8, resp.Usage.TotalTokens)

	var provider string
	var cost float64
	require.NoError(t, conn.QueryRow(`SELECT model_provider, cost FROM ai_model_usage`).Scan(&provider, &cost))
	assert.Equal(t, "local", provider)
	assert.Zero(t, cost)
}

func TestLocalClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewLocalClient(LocalConfig{BaseURL: srv.URL, Model: "m"})
	_, err := c.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClientFunc(t *testing.T) {
	var f AIClient = ClientFunc(func(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
		return &openrouter.ChatResponse{Content: req.UserPrompt}, nil
	})
	resp, err := f.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Content)
}
