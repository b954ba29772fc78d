package am

import (
	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := geotime.ValidateTimezone(c.Temporal.DefaultTimezone); err != nil {
		return errors.Wrap(err, "temporal.default_timezone")
	}
	switch c.Temporal.DefaultLocale {
	case "he", "en":
	default:
		return errors.Newf("temporal.default_locale must be \"he\" or \"en\", got %q", c.Temporal.DefaultLocale)
	}
	if c.Temporal.MessageDeadlineMS <= 0 {
		return errors.Newf("temporal.message_deadline_ms must be > 0, got %d", c.Temporal.MessageDeadlineMS)
	}

	switch c.Resolver.Provider {
	case "openrouter", "local":
	default:
		return errors.Newf("resolver.provider must be \"openrouter\" or \"local\", got %q", c.Resolver.Provider)
	}
	if c.Resolver.TimeoutMS <= 0 {
		return errors.Newf("resolver.timeout_ms must be > 0, got %d", c.Resolver.TimeoutMS)
	}
	if c.Resolver.TimeoutMS >= c.Temporal.MessageDeadlineMS {
		return errors.WithHint(
			errors.Newf("resolver.timeout_ms (%d) must be shorter than temporal.message_deadline_ms (%d)",
				c.Resolver.TimeoutMS, c.Temporal.MessageDeadlineMS),
			"a model call that outlives the message deadline can never be answered")
	}
	if c.Resolver.ConfidenceThreshold < 0 || c.Resolver.ConfidenceThreshold > 1 {
		return errors.Newf("resolver.confidence_threshold must be within [0,1], got %f", c.Resolver.ConfidenceThreshold)
	}
	if c.Resolver.CacheSize <= 0 {
		return errors.Newf("resolver.cache_size must be > 0, got %d", c.Resolver.CacheSize)
	}
	if c.Resolver.CacheTTLSeconds < 0 {
		return errors.Newf("resolver.cache_ttl_seconds must be >= 0, got %d", c.Resolver.CacheTTLSeconds)
	}
	if c.Resolver.MaxHorizonDays <= 0 {
		return errors.Newf("resolver.max_horizon_days must be > 0, got %d", c.Resolver.MaxHorizonDays)
	}

	// Quota: 0 = deny everything in that window, negative = invalid
	if c.Quota.PerMinute < 0 || c.Quota.PerHour < 0 || c.Quota.PerDay < 0 || c.Quota.PerUserDaily < 0 {
		return errors.New("quota limits must be >= 0")
	}
	if c.Quota.DailyBudgetUSD < 0 {
		return errors.Newf("quota.daily_budget_usd must be >= 0, got %f", c.Quota.DailyBudgetUSD)
	}

	if c.Classifier.AmbiguityMargin < 0 || c.Classifier.AmbiguityMargin >= 1 {
		return errors.Newf("classifier.ambiguity_margin must be within [0,1), got %f", c.Classifier.AmbiguityMargin)
	}

	if c.Scheduler.Workers < 0 {
		return errors.Newf("scheduler.workers must be >= 0, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.TickerIntervalMS <= 0 {
		return errors.Newf("scheduler.ticker_interval_ms must be > 0, got %d", c.Scheduler.TickerIntervalMS)
	}
	if c.Scheduler.ClaimLeaseSeconds <= 0 {
		return errors.Newf("scheduler.claim_lease_seconds must be > 0, got %d", c.Scheduler.ClaimLeaseSeconds)
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return errors.Newf("scheduler.max_attempts must be > 0, got %d", c.Scheduler.MaxAttempts)
	}
	if len(c.Scheduler.BackoffSeconds) == 0 {
		return errors.New("scheduler.backoff_seconds cannot be empty")
	}
	for i, s := range c.Scheduler.BackoffSeconds {
		if s <= 0 {
			return errors.Newf("scheduler.backoff_seconds[%d] must be > 0, got %d", i, s)
		}
	}

	if c.Circuit.FailureThreshold <= 0 {
		return errors.Newf("circuit.failure_threshold must be > 0, got %d", c.Circuit.FailureThreshold)
	}
	if c.Circuit.CooldownSeconds <= 0 {
		return errors.Newf("circuit.cooldown_seconds must be > 0, got %d", c.Circuit.CooldownSeconds)
	}

	if c.Transport.SendRatePerSecond <= 0 {
		return errors.Newf("transport.send_rate_per_second must be > 0, got %f", c.Transport.SendRatePerSecond)
	}
	if c.Transport.SendBurst <= 0 {
		return errors.Newf("transport.send_burst must be > 0, got %d", c.Transport.SendBurst)
	}

	return nil
}
