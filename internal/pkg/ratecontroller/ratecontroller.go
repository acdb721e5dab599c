// Package ratecontroller derives the delay between requests and the number of
// requests allowed in flight from the recent outcome history of a remote service.
package ratecontroller

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/internal/pkg/utils"
)

// Mode is the operating mode of a Controller.
type Mode int

const (
	// Adaptive scales the delay geometrically with failures and decays it with successes.
	Adaptive Mode = iota
	// Fast runs at the minimum delay after a streak of successes.
	Fast
	// Cooldown pauses all requests after the service appears to be blocking us.
	Cooldown
)

func (m Mode) String() string {
	switch m {
	case Fast:
		return "fast"
	case Adaptive:
		return "adaptive"
	case Cooldown:
		return "cooldown"
	}
	return "unknown"
}

// Config holds the tuning knobs of a Controller.
type Config struct {
	MinDelay          time.Duration
	MaxDelay          time.Duration
	BaseDelay         time.Duration // delay before any outcome is known
	BackoffFactor     float64       // delay multiplier on failure
	RecoveryFactor    float64       // delay multiplier on success in Adaptive mode
	BurstThreshold    int           // consecutive successes to enter Fast mode
	CooldownThreshold int           // consecutive failures to enter Cooldown mode
	CooldownMin       time.Duration
	CooldownMax       time.Duration
	MaxPenalty        time.Duration // upper bound applied to Retry-After
	MinConcurrency    int
	MaxConcurrency    int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MinDelay:          100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BaseDelay:         500 * time.Millisecond,
		BackoffFactor:     2,
		RecoveryFactor:    0.9,
		BurstThreshold:    10,
		CooldownThreshold: 8,
		CooldownMin:       5 * time.Minute,
		CooldownMax:       15 * time.Minute,
		MaxPenalty:        2 * time.Minute,
		MinConcurrency:    1,
		MaxConcurrency:    8,
	}
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	switch {
	case c.MinDelay < 0:
		return fmt.Errorf("%w: min delay must not be negative", ErrInvalidConfig)
	case c.MaxDelay < c.MinDelay:
		return fmt.Errorf("%w: max delay %s is below min delay %s", ErrInvalidConfig, c.MaxDelay, c.MinDelay)
	case c.BackoffFactor < 1:
		return fmt.Errorf("%w: backoff factor must be >= 1", ErrInvalidConfig)
	case c.RecoveryFactor <= 0 || c.RecoveryFactor > 1:
		return fmt.Errorf("%w: recovery factor must be in (0, 1]", ErrInvalidConfig)
	case c.BurstThreshold < 1 || c.CooldownThreshold < 1:
		return fmt.Errorf("%w: burst and cooldown thresholds must be >= 1", ErrInvalidConfig)
	case c.CooldownMax < c.CooldownMin:
		return fmt.Errorf("%w: cooldown max is below cooldown min", ErrInvalidConfig)
	case c.MinConcurrency < 1 || c.MaxConcurrency < c.MinConcurrency:
		return fmt.Errorf("%w: concurrency bounds must satisfy 1 <= min <= max", ErrInvalidConfig)
	}
	return nil
}

// State is a point-in-time copy of a Controller's rate state.
type State struct {
	CurrentDelay         time.Duration `json:"current_delay"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	Mode                 Mode          `json:"mode"`
	Concurrency          int           `json:"concurrency"`
	PenaltyUntil         time.Time     `json:"penalty_until"`
	CooldownUntil        time.Time     `json:"cooldown_until"`
}

// Controller is the single shared rate authority for one remote service.
// All state changes happen under mu; Wait only sleeps outside of it.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	logger *log.FieldedLogger

	// nowFunc, sleepFunc and randFunc default to the real clock and random
	// source but can be overridden for testing.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func(n int64) int64
}

// New returns a Controller in Adaptive mode at the configured base delay.
func New(name string, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg: cfg,
		logger: log.NewFieldedLogger(&log.Fields{
			"component": "ratecontroller",
			"service":   name,
		}),
		nowFunc:   time.Now,
		sleepFunc: utils.Sleep,
		randFunc:  rand.Int64N,
	}

	c.state = State{
		CurrentDelay: c.clamp(cfg.BaseDelay),
		Mode:         Adaptive,
		Concurrency:  cfg.MaxConcurrency,
	}

	return c, nil
}

// Wait blocks until any penalty or cooldown window has passed, then sleeps
// for the current inter-request delay. It returns early with the context error.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		now := c.nowFunc()
		c.expireCooldown(now)

		blockedUntil := c.state.PenaltyUntil
		if c.state.CooldownUntil.After(blockedUntil) {
			blockedUntil = c.state.CooldownUntil
		}
		delay := c.state.CurrentDelay
		c.mu.Unlock()

		if blockedUntil.After(now) {
			if err := c.sleepFunc(ctx, blockedUntil.Sub(now)); err != nil {
				return err
			}
			continue
		}

		return c.sleepFunc(ctx, delay)
	}
}

// Snapshot returns a copy of the current rate state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireCooldown(c.nowFunc())
	return c.state
}

// Concurrency returns the number of requests currently allowed in flight.
func (c *Controller) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Concurrency
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// expireCooldown resets the controller to Adaptive at the minimum delay once
// a cooldown window is over. Must be called with mu held.
func (c *Controller) expireCooldown(now time.Time) {
	if c.state.Mode != Cooldown || now.Before(c.state.CooldownUntil) {
		return
	}

	c.state.Mode = Adaptive
	c.state.CurrentDelay = c.cfg.MinDelay
	c.state.ConsecutiveFailures = 0
	c.state.ConsecutiveSuccesses = 0
	c.state.CooldownUntil = time.Time{}

	c.logger.Info("cooldown over, resuming in adaptive mode", "delay", c.state.CurrentDelay)
}

func (c *Controller) clamp(d time.Duration) time.Duration {
	if d < c.cfg.MinDelay {
		return c.cfg.MinDelay
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}
