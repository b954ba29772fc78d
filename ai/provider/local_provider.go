package provider

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/ai/openrouter"
	"github.com/teranos/yoman/ai/tracker"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/internal/httpclient"
	"github.com/teranos/yoman/logger"
)

// LocalConfig configures a client for an OpenAI-compatible local server
// (Ollama, LocalAI).
type LocalConfig struct {
	BaseURL        string
	Model          string
	TimeoutSeconds int
	Temperature    float64
	MaxTokens      int
	DB             *sql.DB
	Logger         *zap.SugaredLogger
	OperationType  string
}

// LocalClient talks to a local inference server. It is cost free, but its
// calls are still recorded so quota and spend reports stay complete.
type LocalClient struct {
	cfg          LocalConfig
	httpClient   *httpclient.SaferClient
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// NewLocalClient creates a client for local inference
func NewLocalClient(cfg LocalConfig) *LocalClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &LocalClient{
		cfg:        cfg,
		httpClient: httpclient.New(timeout, httpclient.Options{AllowPrivateIP: true}),
		logger:     logger.AddResolveSymbol(log),
	}
	if cfg.DB != nil {
		c.usageTracker = tracker.NewUsageTracker(cfg.DB)
	}
	return c
}

type localMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localRequest struct {
	Model          string                     `json:"model"`
	Messages       []localMessage             `json:"messages"`
	Stream         bool                       `json:"stream"`
	Temperature    float64                    `json:"temperature"`
	MaxTokens      int                        `json:"max_tokens,omitempty"`
	ResponseFormat *openrouter.ResponseFormat `json:"response_format,omitempty"`
}

type localResponse struct {
	Choices []struct {
		Message localMessage `json:"message"`
	} `json:"choices"`
	Usage *openrouter.Usage `json:"usage,omitempty"`
}

// Chat implements AIClient against /v1/chat/completions.
func (c *LocalClient) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	model := c.cfg.Model
	if req.Model != nil {
		model = *req.Model
	}
	body := localRequest{
		Model:       model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, localMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, localMessage{Role: "user", Content: req.UserPrompt})
	if req.JSONMode {
		body.ResponseFormat = &openrouter.ResponseFormat{Type: "json_object"}
	}

	start := time.Now()
	resp, err := c.do(ctx, body)
	c.track(ctx, start, req.UserID, model, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *LocalClient) do(ctx context.Context, body localRequest) (*openrouter.ChatResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "local inference at %s", c.cfg.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf("local inference returned status %d: %s", resp.StatusCode, string(msg))
	}

	var completion localResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	out := &openrouter.ChatResponse{
		Content: strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:   body.Model,
	}
	if completion.Usage != nil {
		out.Usage = *completion.Usage
	}
	return out, nil
}

func (c *LocalClient) track(ctx context.Context, start time.Time, userID, model string, resp *openrouter.ChatResponse, callErr error) {
	if c.usageTracker == nil {
		return
	}
	end := time.Now()
	usage := &tracker.ModelUsage{
		OperationType:     c.cfg.OperationType,
		UserID:            userID,
		ModelName:         model,
		ModelProvider:     string(ProviderLocal),
		RequestTimestamp:  start,
		ResponseTimestamp: &end,
		Success:           callErr == nil,
	}
	if resp != nil {
		tokens, cost := resp.Usage.TotalTokens, 0.0
		usage.TokensUsed = &tokens
		usage.Cost = &cost
	}
	if callErr != nil {
		msg := callErr.Error()
		usage.ErrorMessage = &msg
	}
	if err := c.usageTracker.TrackUsage(context.WithoutCancel(ctx), usage); err != nil {
		c.logger.Warnw("Failed to track usage", logger.FieldError, err, logger.FieldModel, model)
	}
}
