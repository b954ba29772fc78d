package resolver

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/budget"
	"github.com/teranos/yoman/temporal"
)

// Gate decides whether a paid call may go out. budget.Gateway implements it.
type Gate interface {
	ShouldInvoke(userID string) budget.Decision
}

// Circuit reports whether outbound calls are blocked. circuit.Breaker
// implements it.
type Circuit interface {
	Check() error
}

type cacheEntry struct {
	value   temporal.ResolvedTime
	expires time.Time
}

// CacheStats counts lookups since construction.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Coalesced uint64
	Entries   int
}

// CachedResolver answers repeated phrases from memory. Only a miss reaches
// the gate, and only an allowed miss reaches the wrapped resolver.
// Concurrent misses for the same key share one call.
type CachedResolver struct {
	next    Resolver
	gate    Gate
	circuit Circuit
	cache   *lru.Cache
	ttl     time.Duration
	group   singleflight.Group
	timeNow func() time.Time
	log     *zap.SugaredLogger

	hits, misses, coalesced atomic.Uint64
}

// NewCachedResolver wraps next. A nil gate admits every miss.
func NewCachedResolver(next Resolver, gate Gate, cfg Config, log *zap.SugaredLogger) (*CachedResolver, error) {
	return NewCachedResolverWithClock(next, gate, cfg, log, time.Now)
}

// NewCachedResolverWithClock is NewCachedResolver with an injectable clock.
func NewCachedResolverWithClock(next Resolver, gate Gate, cfg Config, log *zap.SugaredLogger, timeNow func() time.Time) (*CachedResolver, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create resolver cache")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CachedResolver{
		next:    next,
		gate:    gate,
		cache:   cache,
		ttl:     cfg.CacheTTL,
		timeNow: timeNow,
		log:     logger.AddResolveSymbol(log),
	}, nil
}

// WithCircuit blocks misses while circuit reports the transport down. A blocked
// miss fails with errors.ErrDispatchBlocked before the gate is consulted.
func (c *CachedResolver) WithCircuit(circuit Circuit) *CachedResolver {
	c.circuit = circuit
	return c
}

// Key is the cache key of req: xxhash over the normalised text, the
// reference day in the request's timezone, and the timezone.
func Key(req Request) (uint64, error) {
	loc, err := geotime.Load(req.Timezone)
	if err != nil {
		return 0, err
	}
	d := xxhash.New()
	d.WriteString(temporal.Normalize(req.Text))
	d.WriteString("\x00")
	d.WriteString(req.Reference.In(loc).Format("2006-01-02"))
	d.WriteString("\x00")
	d.WriteString(loc.String())
	return d.Sum64(), nil
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, req Request) (temporal.ResolvedTime, error) {
	key, err := Key(req)
	if err != nil {
		return temporal.ResolvedTime{}, err
	}
	log := logger.FromContext(ctx, c.log).With(logger.FieldUserID, req.UserID)

	if rt, ok := c.lookup(key); ok {
		c.hits.Add(1)
		log.Debugw("Resolver cache hit", "instant", rt.Instant)
		return rt, nil
	}

	ch := c.group.DoChan(strconv.FormatUint(key, 16), func() (interface{}, error) {
		// a flight that just landed may have filled the entry
		if rt, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return rt, nil
		}
		c.misses.Add(1)
		if c.circuit != nil {
			if err := c.circuit.Check(); err != nil {
				log.Infow("Model call blocked by open circuit", logger.FieldError, err.Error())
				return nil, err
			}
		}
		if c.gate != nil {
			if d := c.gate.ShouldInvoke(req.UserID); !d.Allowed {
				log.Infow("Model call denied by gateway", logger.FieldReason, d.Reason)
				return nil, d.Err()
			}
		}
		// one caller leaving must not fail the others in the flight
		rt, err := c.next.Resolve(context.WithoutCancel(ctx), req)
		if err != nil {
			return nil, err
		}
		c.store(key, rt)
		return rt, nil
	})

	select {
	case <-ctx.Done():
		return temporal.ResolvedTime{}, errors.NewResolverFailure(ctx.Err(), "resolve abandoned")
	case res := <-ch:
		if res.Shared {
			c.coalesced.Add(1)
		}
		if res.Err != nil {
			return temporal.ResolvedTime{}, res.Err
		}
		return res.Val.(temporal.ResolvedTime), nil
	}
}

// lookup returns a live entry attributed to the cache.
func (c *CachedResolver) lookup(key uint64) (temporal.ResolvedTime, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return temporal.ResolvedTime{}, false
	}
	e := v.(cacheEntry)
	if c.ttl > 0 && !c.timeNow().Before(e.expires) {
		c.cache.Remove(key)
		return temporal.ResolvedTime{}, false
	}
	return e.value.WithSource(temporal.SourceCache), true
}

func (c *CachedResolver) store(key uint64, rt temporal.ResolvedTime) {
	c.cache.Add(key, cacheEntry{value: rt, expires: c.timeNow().Add(c.ttl)})
}

// Stats reports cache effectiveness.
func (c *CachedResolver) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Entries:   c.cache.Len(),
	}
}

// Purge drops every entry.
func (c *CachedResolver) Purge() {
	c.cache.Purge()
}
