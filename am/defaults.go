package am

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "yoman.db")

	v.SetDefault("temporal.default_timezone", "Asia/Jerusalem")
	v.SetDefault("temporal.default_locale", "he")
	v.SetDefault("temporal.message_deadline_ms", 8000)

	v.SetDefault("resolver.provider", "openrouter")
	v.SetDefault("resolver.timeout_ms", 4000) // must stay below the message deadline
	v.SetDefault("resolver.confidence_threshold", 0.7)
	v.SetDefault("resolver.cache_ttl_seconds", 86400)
	v.SetDefault("resolver.cache_size", 4096)
	v.SetDefault("resolver.max_horizon_days", 1825) // five years

	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.0)
	v.SetDefault("openrouter.max_tokens", 300)

	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.timeout_seconds", 30)

	v.SetDefault("quota.per_minute", 20)
	v.SetDefault("quota.per_hour", 200)
	v.SetDefault("quota.per_day", 1000)
	v.SetDefault("quota.per_user_daily", 50)
	v.SetDefault("quota.daily_budget_usd", 3.0)

	v.SetDefault("classifier.ambiguity_margin", 0.15)
	v.SetDefault("classifier.model_fallback", false)

	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.ticker_interval_ms", 1000)
	v.SetDefault("scheduler.claim_lease_seconds", 60)
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.backoff_seconds", []int{30, 60, 120, 300, 600})
	v.SetDefault("scheduler.overdue_grace_minutes", 5)

	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.cooldown_seconds", 30)

	v.SetDefault("transport.bridge_url", "ws://localhost:3000/ws")
	v.SetDefault("transport.send_rate_per_second", 1.0)
	v.SetDefault("transport.send_burst", 5)
	v.SetDefault("transport.reconnect_seconds", 5)
	v.SetDefault("transport.ack_timeout_seconds", 10)

	v.SetDefault("health.grpc_addr", "")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openrouter.api_key", "OPENROUTER_API_KEY", "YOMAN_OPENROUTER_API_KEY")
	_ = v.BindEnv("transport.token", "YOMAN_TRANSPORT_TOKEN")
	_ = v.BindEnv("database.path", "YOMAN_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "yoman.db"
	}
	return c.Database.Path
}

// MessageDeadline is the budget for handling one utterance end to end.
func (c *Config) MessageDeadline() time.Duration {
	return time.Duration(c.Temporal.MessageDeadlineMS) * time.Millisecond
}

// ResolverTimeout bounds a single model call.
func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutMS) * time.Millisecond
}

// Backoff returns the retry schedule as durations.
func (c *Config) Backoff() []time.Duration {
	out := make([]time.Duration, len(c.Scheduler.BackoffSeconds))
	for i, s := range c.Scheduler.BackoffSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// GetOpenRouterTemperature returns the sampling temperature (default 0.0)
func (c *Config) GetOpenRouterTemperature() float64 {
	if c.OpenRouter.Temperature == nil {
		return 0.0
	}
	return *c.OpenRouter.Temperature
}

// GetOpenRouterMaxTokens returns the response token cap (default 300)
func (c *Config) GetOpenRouterMaxTokens() int {
	if c.OpenRouter.MaxTokens == nil {
		return 300
	}
	return *c.OpenRouter.MaxTokens
}
