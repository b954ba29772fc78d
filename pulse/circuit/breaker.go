// Package circuit guards dispatch into the chat transport. While the
// transport is known to be down every send fails fast with
// errors.ErrDispatchBlocked; after a cooldown a single probe is let
// through and its outcome decides whether the circuit closes again.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/transport"
)

// State of the circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config tunes the breaker.
type Config struct {
	FailureThreshold int           // consecutive failures that open a closed circuit
	Cooldown         time.Duration // time spent open before probing
}

// DefaultConfig matches the shipped circuit section of am.toml.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, Cooldown: 30 * time.Second}
}

// Transition is reported to listeners after every state change.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

// Listener observes transitions. Listeners run outside the breaker lock,
// in order, on the goroutine that caused the change.
type Listener func(Transition)

// Breaker is one circuit per transport connection. Safe for concurrent use.
type Breaker struct {
	mu             sync.Mutex
	cfg            Config
	state          State
	failures       int
	probing        bool
	lastTransition time.Time
	pending        []Transition
	listeners      []Listener

	timeNow func() time.Time // Injectable for testing
	log     *zap.SugaredLogger
}

// New creates a closed breaker with real time.
func New(cfg Config, log *zap.SugaredLogger) *Breaker {
	return NewWithClock(cfg, log, time.Now)
}

// NewWithClock creates a closed breaker with an injectable clock (for testing).
func NewWithClock(cfg Config, log *zap.SugaredLogger, timeNow func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Breaker{
		cfg:            cfg,
		state:          Closed,
		lastTransition: timeNow(),
		timeNow:        timeNow,
		log:            logger.AddCircuitSymbol(log),
	}
}

// OnTransition registers a listener.
func (b *Breaker) OnTransition(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// State returns the current state, applying an elapsed cooldown first.
func (b *Breaker) State() State {
	b.mu.Lock()
	b.cooldownLocked()
	s := b.state
	fired, listeners := b.drainLocked()
	b.mu.Unlock()
	notify(fired, listeners)
	return s
}

// Snapshot returns the state, the time of the last transition and the
// current consecutive failure count.
func (b *Breaker) Snapshot() (State, time.Time, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.lastTransition, b.failures
}

// Allow admits one dispatch or returns errors.ErrDispatchBlocked. A
// half-open circuit admits a single probe at a time; the caller must
// report its outcome with Success or Failure (Do does this).
func (b *Breaker) Allow() error {
	b.mu.Lock()
	b.cooldownLocked()
	var err error
	switch b.state {
	case Open:
		retryIn := b.cfg.Cooldown - b.timeNow().Sub(b.lastTransition)
		err = errors.WithDetailf(errors.ErrDispatchBlocked, "circuit open, probing in %s", retryIn.Round(time.Second))
	case HalfOpen:
		if b.probing {
			err = errors.WithDetail(errors.ErrDispatchBlocked, "circuit half-open, probe in flight")
		} else {
			b.probing = true
		}
	}
	fired, listeners := b.drainLocked()
	b.mu.Unlock()
	notify(fired, listeners)
	return err
}

// Check reports errors.ErrDispatchBlocked while the circuit is open. It
// never takes the half-open probe slot and records no outcome, so model
// calls can be gated on transport state without steering the breaker.
func (b *Breaker) Check() error {
	b.mu.Lock()
	b.cooldownLocked()
	var err error
	if b.state == Open {
		retryIn := b.cfg.Cooldown - b.timeNow().Sub(b.lastTransition)
		err = errors.WithDetailf(errors.ErrDispatchBlocked, "circuit open, probing in %s", retryIn.Round(time.Second))
	}
	fired, listeners := b.drainLocked()
	b.mu.Unlock()
	notify(fired, listeners)
	return err
}

// Success records a delivered dispatch.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	if b.state == HalfOpen {
		b.probing = false
		b.transitionLocked(Closed, "probe succeeded")
	}
	fired, listeners := b.drainLocked()
	b.mu.Unlock()
	notify(fired, listeners)
}

// Failure records a failed dispatch.
func (b *Breaker) Failure(cause error) {
	b.mu.Lock()
	reason := "dispatch failed"
	if cause != nil {
		reason = cause.Error()
	}
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(Open, fmt.Sprintf("%d consecutive failures: %s", b.failures, reason))
		}
	case HalfOpen:
		b.probing = false
		b.transitionLocked(Open, "probe failed: "+reason)
	}
	fired, listeners := b.drainLocked()
	b.mu.Unlock()
	notify(fired, listeners)
}

// Do runs fn if the circuit admits it and records the outcome. A blocked
// call never runs fn. Cancellation of ctx is not held against the
// transport.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.Success()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release()
	default:
		b.Failure(err)
	}
	return err
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// Signal applies a transport connectivity event. Disconnected and
// auth-failed open the circuit at once from any state; connected while
// open skips the rest of the cooldown and moves to half-open.
func (b *Breaker) Signal(ev transport.Event) {
	b.mu.Lock()
	switch ev.Kind {
	case transport.Disconnected, transport.AuthFailed:
		reason := string(ev.Kind)
		if ev.Detail != "" {
			reason += ": " + ev.Detail
		}
		if b.state == Open {
			// Restart the cooldown.
			b.lastTransition = b.timeNow()
		} else {
			b.probing = false
			b.transitionLocked(Open, reason)
		}
	case transport.Connected:
		switch b.state {
		case Open:
			b.transitionLocked(HalfOpen, "transport connected")
		case Closed:
			b.failures = 0
		}
	}
	fired, listeners := b.drainLocked()
	b.mu.Unlock()
	notify(fired, listeners)
}

// Follow applies events until ctx ends or the channel closes.
func (b *Breaker) Follow(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Signal(ev)
		}
	}
}

// Must be called with lock held.
func (b *Breaker) cooldownLocked() {
	if b.state == Open && b.timeNow().Sub(b.lastTransition) >= b.cfg.Cooldown {
		b.transitionLocked(HalfOpen, "cooldown elapsed")
	}
}

// Must be called with lock held.
func (b *Breaker) transitionLocked(to State, reason string) {
	if b.state == to {
		return
	}
	t := Transition{From: b.state, To: to, At: b.timeNow(), Reason: reason}
	b.state = to
	b.lastTransition = t.At
	if to != Closed {
		b.failures = 0
	}
	b.pending = append(b.pending, t)

	log := b.log.With(logger.FieldState, to.String(), logger.FieldReason, reason)
	if to == Open {
		log.Warnw("Transport circuit opened", "from", t.From.String())
	} else {
		log.Infow("Transport circuit transition", "from", t.From.String())
	}
}

// Must be called with lock held.
func (b *Breaker) drainLocked() ([]Transition, []Listener) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	fired := b.pending
	b.pending = nil
	return fired, append([]Listener(nil), b.listeners...)
}

func notify(fired []Transition, listeners []Listener) {
	for _, t := range fired {
		for _, l := range listeners {
			l(t)
		}
	}
}
