package ratecontroller

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mangaraw/harvester/internal/pkg/stats"
	"github.com/mangaraw/harvester/pkg/models"
)

// OnSuccess records a successful exchange with the remote service.
// It forgets one past failure, decays the delay in Adaptive mode and switches
// to Fast mode after BurstThreshold consecutive successes. Every further full
// burst widens the concurrency window by one.
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireCooldown(c.nowFunc())

	if c.state.ConsecutiveFailures > 0 {
		c.state.ConsecutiveFailures--
	}
	c.state.ConsecutiveSuccesses++

	if c.state.Mode == Adaptive {
		c.state.CurrentDelay = c.clamp(time.Duration(float64(c.state.CurrentDelay) * c.cfg.RecoveryFactor))
	}

	if c.state.ConsecutiveSuccesses >= c.cfg.BurstThreshold {
		if c.state.Mode != Fast {
			c.state.Mode = Fast
			c.state.CurrentDelay = c.cfg.MinDelay
			c.logger.Info("success streak, switching to fast mode", "streak", c.state.ConsecutiveSuccesses)
		}

		if c.state.ConsecutiveSuccesses%c.cfg.BurstThreshold == 0 && c.state.Concurrency < c.cfg.MaxConcurrency {
			c.state.Concurrency++
		}
	}

	c.publish()
}

// OnFailure records a failed exchange. Only transport-level signals (rate
// limiting, server errors, timeouts and connection failures) move the state;
// anything else is ignored. A positive retryAfter opens a penalty window
// during which Wait blocks.
func (c *Controller) OnFailure(kind models.ErrorKind, retryAfter time.Duration) {
	if !kind.Transient() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	c.expireCooldown(now)

	next := time.Duration(float64(c.state.CurrentDelay) * c.cfg.BackoffFactor)
	if next <= c.state.CurrentDelay {
		next = c.state.CurrentDelay + c.cfg.BaseDelay
	}
	c.state.CurrentDelay = c.clamp(next)

	c.state.ConsecutiveSuccesses = 0
	c.state.ConsecutiveFailures++

	if c.state.Mode == Fast {
		c.state.Mode = Adaptive
		c.logger.Info("failure in fast mode, switching to adaptive mode", "kind", kind)
	}

	c.state.Concurrency /= 2
	if c.state.Concurrency < c.cfg.MinConcurrency {
		c.state.Concurrency = c.cfg.MinConcurrency
	}

	if retryAfter > 0 {
		if c.cfg.MaxPenalty > 0 && retryAfter > c.cfg.MaxPenalty {
			retryAfter = c.cfg.MaxPenalty
		}
		if until := now.Add(retryAfter); until.After(c.state.PenaltyUntil) {
			c.state.PenaltyUntil = until
		}
	}

	if c.state.Mode != Cooldown && c.state.ConsecutiveFailures >= c.cfg.CooldownThreshold {
		cooldown := c.cfg.CooldownMin
		if spread := int64(c.cfg.CooldownMax - c.cfg.CooldownMin); spread > 0 {
			cooldown += time.Duration(c.randFunc(spread + 1))
		}

		c.state.Mode = Cooldown
		c.state.CooldownUntil = now.Add(cooldown)

		c.logger.Warn("remote service appears to be blocking, cooling down",
			"failures", c.state.ConsecutiveFailures,
			"duration", cooldown,
			"until", humanize.Time(c.state.CooldownUntil))
	}

	c.publish()
}

// publish exports the state to the metrics registry. Must be called with mu held.
func (c *Controller) publish() {
	stats.RateStateSet(c.state.Mode.String(), c.state.CurrentDelay, c.state.Concurrency)
}
