// Package retry wraps single HTTP exchanges with a bounded, jittered
// exponential backoff, feeding every transport outcome to a rate Limiter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/internal/pkg/stats"
	"github.com/mangaraw/harvester/internal/pkg/utils"
	"github.com/mangaraw/harvester/pkg/models"
)

// Limiter is the rate authority consulted before and informed after every attempt.
// *ratecontroller.Controller implements it.
type Limiter interface {
	Wait(ctx context.Context) error
	OnSuccess()
	OnFailure(kind models.ErrorKind, retryAfter time.Duration)
}

// Exchange is what one attempt produced.
type Exchange struct {
	StatusCode int
	RetryAfter time.Duration
	Body       []byte
	Err        error
}

// AttemptFunc performs one attempt. attempt starts at 0.
type AttemptFunc func(ctx context.Context, attempt int) Exchange

// Result is the terminal result of Do.
type Result struct {
	Class      Class
	Kind       models.ErrorKind
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
	Err        error
	Attempts   int
	Exhausted  bool // the last attempt was transient and no retry was left
}

// OK reports whether the exchange eventually succeeded.
func (r Result) OK() bool {
	return r.Class == ClassOK
}

// Policy decides how many times and how long apart transient failures are retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64 // fraction of the backoff randomly added or removed, in [0, 1]

	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func() float64
}

// DefaultPolicy returns the policy used when nothing is overridden.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
	}
}

// Backoff returns the pause before retry number attempt+1, without jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}

	random := rand.Float64
	if p.randFunc != nil {
		random = p.randFunc
	}

	d = time.Duration(float64(d) * (1 - p.Jitter + 2*p.Jitter*random()))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs attempt until it succeeds, fails terminally or MaxRetries retries
// were spent, so a transient failure is attempted exactly MaxRetries+1 times.
// Every attempt first goes through limiter.Wait. Not-found and fatal
// results are never reported to the limiter.
func (p Policy) Do(ctx context.Context, limiter Limiter, attempt AttemptFunc) Result {
	logger := log.NewFieldedLogger(&log.Fields{
		"component": "retry",
	})

	sleep := utils.Sleep
	if p.sleepFunc != nil {
		sleep = p.sleepFunc
	}

	var result Result
	for try := 0; try <= p.MaxRetries; try++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return canceled(result, err)
			}
		}

		exchange := attempt(ctx, try)
		result.Attempts++
		stats.HTTPAttemptsIncr()

		if ctx.Err() != nil {
			return canceled(result, ctx.Err())
		}

		result.Class, result.Kind = Classify(exchange.StatusCode, exchange.Err)
		result.StatusCode = exchange.StatusCode
		result.Body = exchange.Body
		result.RetryAfter = exchange.RetryAfter
		result.Err = exchange.Err
		if exchange.StatusCode != 0 {
			stats.HTTPStatusIncr(exchange.StatusCode)
		}

		switch result.Class {
		case ClassOK:
			if limiter != nil {
				limiter.OnSuccess()
			}
			return result
		case ClassNotFound, ClassFatal:
			return result
		}

		if limiter != nil {
			limiter.OnFailure(result.Kind, exchange.RetryAfter)
		}

		if try == p.MaxRetries {
			break
		}

		backoff := p.jittered(p.Backoff(try))
		stats.RetriesIncr()
		logger.Warn("retrying", "kind", result.Kind, "status_code", exchange.StatusCode, "retry", try, "sleep_time", backoff)

		if err := sleep(ctx, backoff); err != nil {
			return canceled(result, err)
		}
	}

	result.Exhausted = true
	logger.Warn("retries exceeded", "kind", result.Kind, "status_code", result.StatusCode, "attempts", result.Attempts)

	return result
}

func canceled(result Result, err error) Result {
	result.Class = ClassFatal
	result.Kind = models.ErrKindCanceled
	result.Err = err
	return result
}
