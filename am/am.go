// Package am ("ambient") holds yoman's configuration: typed sections,
// defaults, layered TOML files, environment overrides and hot reload.
package am

// Config represents the complete yoman configuration
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Temporal       TemporalConfig       `mapstructure:"temporal" yaml:"temporal"`
	Resolver       ResolverConfig       `mapstructure:"resolver" yaml:"resolver"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter" yaml:"openrouter"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference" yaml:"local_inference"`
	Quota          QuotaConfig          `mapstructure:"quota" yaml:"quota"`
	Classifier     ClassifierConfig     `mapstructure:"classifier" yaml:"classifier"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler" yaml:"scheduler"`
	Circuit        CircuitConfig        `mapstructure:"circuit" yaml:"circuit"`
	Transport      TransportConfig      `mapstructure:"transport" yaml:"transport"`
	Health         HealthConfig         `mapstructure:"health" yaml:"health"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// TemporalConfig configures the deterministic parser and the per-message pipeline
type TemporalConfig struct {
	DefaultTimezone   string `mapstructure:"default_timezone" yaml:"default_timezone"`       // used when a user has no zone on file
	DefaultLocale     string `mapstructure:"default_locale" yaml:"default_locale"`           // "he" or "en"
	MessageDeadlineMS int    `mapstructure:"message_deadline_ms" yaml:"message_deadline_ms"` // whole-utterance budget
}

// ResolverConfig configures the model-backed temporal resolver
type ResolverConfig struct {
	Provider            string  `mapstructure:"provider" yaml:"provider"` // "openrouter" or "local"
	TimeoutMS           int     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	CacheTTLSeconds     int     `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	CacheSize           int     `mapstructure:"cache_size" yaml:"cache_size"`
	MaxHorizonDays      int     `mapstructure:"max_horizon_days" yaml:"max_horizon_days"` // plausible range upper bound
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key" yaml:"-"`
	Model       string   `mapstructure:"model" yaml:"model"`
	Temperature *float64 `mapstructure:"temperature" yaml:"temperature"` // nil = default 0.0
	MaxTokens   *int     `mapstructure:"max_tokens" yaml:"max_tokens"`   // nil = default 300
}

// LocalInferenceConfig configures an OpenAI-compatible local server (Ollama, LocalAI)
type LocalInferenceConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Model          string `mapstructure:"model" yaml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// QuotaConfig configures the invocation gateway. Zero means zero: a limit
// of 0 denies every model call in that window.
type QuotaConfig struct {
	PerMinute      int     `mapstructure:"per_minute" yaml:"per_minute"`
	PerHour        int     `mapstructure:"per_hour" yaml:"per_hour"`
	PerDay         int     `mapstructure:"per_day" yaml:"per_day"`
	PerUserDaily   int     `mapstructure:"per_user_daily" yaml:"per_user_daily"`
	DailyBudgetUSD float64 `mapstructure:"daily_budget_usd" yaml:"daily_budget_usd"` // 0 disables the spend guard
}

// ClassifierConfig configures intent classification
type ClassifierConfig struct {
	AmbiguityMargin float64 `mapstructure:"ambiguity_margin" yaml:"ambiguity_margin"`
	ModelFallback   bool    `mapstructure:"model_fallback" yaml:"model_fallback"`
}

// SchedulerConfig configures the durable job scheduler
type SchedulerConfig struct {
	Workers             int   `mapstructure:"workers" yaml:"workers"`
	TickerIntervalMS    int   `mapstructure:"ticker_interval_ms" yaml:"ticker_interval_ms"`
	ClaimLeaseSeconds   int   `mapstructure:"claim_lease_seconds" yaml:"claim_lease_seconds"`
	MaxAttempts         int   `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffSeconds      []int `mapstructure:"backoff_seconds" yaml:"backoff_seconds"`
	OverdueGraceMinutes int   `mapstructure:"overdue_grace_minutes" yaml:"overdue_grace_minutes"` // recovery log threshold
}

// CircuitConfig configures the transport circuit breaker
type CircuitConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// TransportConfig configures the chat bridge client
type TransportConfig struct {
	BridgeURL         string  `mapstructure:"bridge_url" yaml:"bridge_url"`
	Token             string  `mapstructure:"token" yaml:"-"`
	SendRatePerSecond float64 `mapstructure:"send_rate_per_second" yaml:"send_rate_per_second"`
	SendBurst         int     `mapstructure:"send_burst" yaml:"send_burst"`
	ReconnectSeconds  int     `mapstructure:"reconnect_seconds" yaml:"reconnect_seconds"`
	AckTimeoutSeconds int     `mapstructure:"ack_timeout_seconds" yaml:"ack_timeout_seconds"`
}

// HealthConfig configures the gRPC health endpoint
type HealthConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"` // empty disables
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
