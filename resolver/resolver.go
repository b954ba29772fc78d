// Package resolver is the slow path for temporal expressions the
// deterministic parser cannot read: a language model answers with a JSON
// instant that is validated before use, and answers are cached so the same
// phrase on the same day costs one call.
package resolver

import (
	"context"
	"time"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/temporal"
)

// Request is one utterance to resolve.
type Request struct {
	Text      string
	Reference time.Time
	Timezone  string
	Locale    string // "he" or "en"; a hint for the prompt only
	UserID    string
}

// Resolver turns free text into a ResolvedTime or fails with
// errors.ErrResolverFailure (or errors.ErrQuotaExceeded when a gateway
// sits in front of it).
type Resolver interface {
	Resolve(ctx context.Context, req Request) (temporal.ResolvedTime, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context, req Request) (temporal.ResolvedTime, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, req Request) (temporal.ResolvedTime, error) {
	return f(ctx, req)
}

// Config bounds what the model may answer.
type Config struct {
	Timeout             time.Duration
	ConfidenceThreshold float64
	MaxHorizon          time.Duration
	CacheSize           int
	CacheTTL            time.Duration
}

// ConfigFromAm reads the resolver section of am.toml.
func ConfigFromAm(c *am.Config) Config {
	return Config{
		Timeout:             c.ResolverTimeout(),
		ConfidenceThreshold: c.Resolver.ConfidenceThreshold,
		MaxHorizon:          time.Duration(c.Resolver.MaxHorizonDays) * 24 * time.Hour,
		CacheSize:           c.Resolver.CacheSize,
		CacheTTL:            time.Duration(c.Resolver.CacheTTLSeconds) * time.Second,
	}
}
