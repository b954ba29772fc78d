package openrouter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/ai/tracker"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/internal/httpclient"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/version"
)

const (
	// DefaultModel is the fallback model when none is specified.
	// Matches the default in am/defaults.go.
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// ProviderName is recorded as model_provider in ai_model_usage.
	ProviderName = "openrouter"

	maxRetries = 3
)

// Client is an OpenRouter.ai chat-completions client that records every
// call in ai_model_usage.
type Client struct {
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
	retryDelay   time.Duration
}

// Config holds AI client configuration
type Config struct {
	APIKey        string
	Model         string
	Temperature   *float64           // nil = 0.0, temporal answers should not vary
	MaxTokens     *int               // nil = 300, answers are a single JSON object
	BaseURL       string             // empty = DefaultBaseURL
	Logger        *zap.SugaredLogger // nil = nop logger
	DB            *sql.DB            // usage tracking; the spend guard reads these rows
	OperationType string             // e.g. "temporal-resolve"
}

// NewClient creates a new OpenRouter.ai client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		temp := 0.0
		config.Temperature = &temp
	}
	if config.MaxTokens == nil {
		tokens := 300
		config.MaxTokens = &tokens
	}

	var usageTracker *tracker.UsageTracker
	if config.DB != nil {
		usageTracker = tracker.NewUsageTracker(config.DB)
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpclient.NewSaferClient(60 * time.Second),
		config:       config,
		usageTracker: usageTracker,
		logger:       logger.AddResolveSymbol(log),
		retryDelay:   time.Second,
	}
}

// ChatRequest represents a high-level request to the model
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override default temperature
	MaxTokens    *int     // Override default max tokens
	Model        *string  // Override default model
	JSONMode     bool     // ask for a JSON object response
	UserID       string   // recorded with the usage row
}

// ChatResponse represents the model response
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
	Cost    float64
}

// Message represents a message in a chat completion
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects structured output where the model supports it
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// statusError is a non-200 answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "API request failed with status " + strconv.Itoa(e.code) + ": " + e.body
}

// CreateChatCompletion sends a single chat completion request to OpenRouter
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	title := "yoman"
	if c.config.OperationType != "" {
		title += "/" + c.config.OperationType
	}
	httpReq.Header.Set("X-Title", title)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&statusError{code: resp.StatusCode, body: string(respBody)})
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &chatResp, nil
}

// Chat sends a chat completion request, retrying network errors and
// rate-limit or server-side statuses.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(errors.New("OpenRouter API key not configured"),
			"set openrouter.api_key in am.toml or YOMAN_OPENROUTER_API_KEY")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}
	completionReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		completionReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	log := c.logger.With(logger.FieldModel, model, logger.FieldUserID, req.UserID)
	log.Debugw("Model request", "temperature", temperature, "max_tokens", maxTokens)

	requestTime := time.Now()
	var (
		resp *ChatCompletionResponse
		err  error
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			log.Debugw("Retrying model request", logger.FieldAttempts, attempt, "delay", delay)
			select {
			case <-ctx.Done():
				err = errors.Wrap(ctx.Err(), "retry abandoned")
				c.track(ctx, requestTime, req.UserID, model, temperature, maxTokens, nil, err)
				return nil, err
			case <-time.After(delay):
			}
		}

		resp, err = c.CreateChatCompletion(ctx, completionReq)
		if err == nil {
			break
		}
		log.Warnw("Model request failed", logger.FieldAttempts, attempt+1, logger.FieldError, err)
		if !isRetryableError(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		c.track(ctx, requestTime, req.UserID, model, temperature, maxTokens, nil, err)
		return nil, errors.Wrap(err, "OpenRouter API error")
	}
	if len(resp.Choices) == 0 {
		err = errors.New("no response choices from OpenRouter")
		c.track(ctx, requestTime, req.UserID, model, temperature, maxTokens, nil, err)
		return nil, err
	}

	out := &ChatResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   model,
		Usage:   resp.Usage,
		Cost:    CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}
	log.Debugw("Model response",
		"content_length", len(out.Content),
		"total_tokens", resp.Usage.TotalTokens,
		"cost_usd", out.Cost,
	)
	c.track(ctx, requestTime, req.UserID, model, temperature, maxTokens, out, nil)
	return out, nil
}

// track records one call. Tracking failures are logged, never returned:
// losing a usage row must not fail the user's request.
func (c *Client) track(ctx context.Context, requestTime time.Time, userID, model string, temperature float64, maxTokens int, resp *ChatResponse, callErr error) {
	if c.usageTracker == nil {
		return
	}
	responseTime := time.Now()
	usage := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		UserID:            userID,
		ModelName:         model,
		ModelProvider:     ProviderName,
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           callErr == nil,
	}
	if resp != nil {
		tokens, cost := resp.Usage.TotalTokens, resp.Cost
		usage.TokensUsed = &tokens
		usage.Cost = &cost
	}
	if callErr != nil {
		msg := callErr.Error()
		usage.ErrorMessage = &msg
	}
	// the caller's context may already be done
	if err := c.usageTracker.TrackUsage(context.WithoutCancel(ctx), usage); err != nil {
		c.logger.Warnw("Failed to track usage", logger.FieldError, err, logger.FieldModel, model)
	}
}

// isRetryableError reports network failures, rate limiting and 5xx answers.
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset by peer", "connection refused", "i/o timeout", "temporary failure", "network is unreachable"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient replaces the SSRF-safer client. Tests only.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
