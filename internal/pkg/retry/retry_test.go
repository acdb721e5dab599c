package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mangaraw/harvester/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLimiter struct {
	mu        sync.Mutex
	waits     int
	successes int
	failures  []models.ErrorKind
	retryAt   []time.Duration
}

func (l *recordingLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return ctx.Err()
}

func (l *recordingLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes++
}

func (l *recordingLimiter) OnFailure(kind models.ErrorKind, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, kind)
	l.retryAt = append(l.retryAt, retryAfter)
}

func testPolicy(maxRetries int) (Policy, *[]time.Duration) {
	var sleeps []time.Duration
	p := Policy{
		MaxRetries: maxRetries,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		sleepFunc: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return ctx.Err()
		},
	}
	return p, &sleeps
}

func TestDo_TransientExhaustsRetries(t *testing.T) {
	policy, sleeps := testPolicy(5)
	limiter := &recordingLimiter{}

	attempts := 0
	result := policy.Do(context.Background(), limiter, func(ctx context.Context, attempt int) Exchange {
		assert.Equal(t, attempts, attempt)
		attempts++
		return Exchange{StatusCode: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 6, attempts)
	assert.Equal(t, 6, result.Attempts)
	assert.True(t, result.Exhausted)
	assert.Equal(t, ClassTransient, result.Class)
	assert.Equal(t, models.ErrKindServer, result.Kind)

	assert.Equal(t, 6, limiter.waits)
	assert.Len(t, limiter.failures, 6)
	assert.Zero(t, limiter.successes)

	require.Len(t, *sleeps, 5)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
	}, *sleeps)
}

func TestDo_FatalIsAttemptedOnce(t *testing.T) {
	policy, sleeps := testPolicy(5)
	limiter := &recordingLimiter{}

	attempts := 0
	result := policy.Do(context.Background(), limiter, func(ctx context.Context, attempt int) Exchange {
		attempts++
		return Exchange{StatusCode: http.StatusOK, Err: fmt.Errorf("%w: unexpected token", ErrMalformed)}
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, ClassFatal, result.Class)
	assert.Equal(t, models.ErrKindMalformed, result.Kind)
	assert.False(t, result.Exhausted)
	assert.Empty(t, *sleeps)
	assert.Empty(t, limiter.failures)
}

func TestDo_NotFoundIsNotARateSignal(t *testing.T) {
	policy, _ := testPolicy(5)
	limiter := &recordingLimiter{}

	for _, status := range []int{http.StatusNotFound, http.StatusMethodNotAllowed} {
		result := policy.Do(context.Background(), limiter, func(ctx context.Context, attempt int) Exchange {
			return Exchange{StatusCode: status}
		})

		assert.Equal(t, ClassNotFound, result.Class)
		assert.Equal(t, 1, result.Attempts)
	}

	assert.Empty(t, limiter.failures)
	assert.Zero(t, limiter.successes)
}

func TestDo_RecoversAfterRateLimit(t *testing.T) {
	policy, sleeps := testPolicy(5)
	limiter := &recordingLimiter{}

	result := policy.Do(context.Background(), limiter, func(ctx context.Context, attempt int) Exchange {
		if attempt == 0 {
			return Exchange{StatusCode: http.StatusTooManyRequests, RetryAfter: 2 * time.Second}
		}
		return Exchange{StatusCode: http.StatusOK, Body: []byte(`{}`)}
	})

	assert.True(t, result.OK())
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []byte(`{}`), result.Body)
	assert.Equal(t, []models.ErrorKind{models.ErrKindRateLimited}, limiter.failures)
	assert.Equal(t, []time.Duration{2 * time.Second}, limiter.retryAt)
	assert.Equal(t, 1, limiter.successes)
	assert.Len(t, *sleeps, 1)
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   time.Second,
		sleepFunc: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	result := policy.Do(ctx, nil, func(ctx context.Context, attempt int) Exchange {
		return Exchange{Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}
	})

	assert.Equal(t, models.ErrKindCanceled, result.Kind)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.Exhausted)
}

func TestJitterStaysWithinBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.5}

	p.randFunc = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.jittered(time.Second))

	p.randFunc = func() float64 { return 1 }
	assert.Equal(t, 1500*time.Millisecond, p.jittered(time.Second))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		class  Class
		kind   models.ErrorKind
	}{
		{"ok", 200, nil, ClassOK, models.ErrKindNone},
		{"no content", 204, nil, ClassOK, models.ErrKindNone},
		{"not found", 404, nil, ClassNotFound, models.ErrKindNone},
		{"method not allowed", 405, nil, ClassNotFound, models.ErrKindNone},
		{"request timeout", 408, nil, ClassTransient, models.ErrKindTimeout},
		{"too early", 425, nil, ClassTransient, models.ErrKindTimeout},
		{"rate limited", 429, nil, ClassTransient, models.ErrKindRateLimited},
		{"server error", 500, nil, ClassTransient, models.ErrKindServer},
		{"bad gateway", 502, nil, ClassTransient, models.ErrKindServer},
		{"bad request", 400, nil, ClassFatal, models.ErrKindClient},
		{"forbidden", 403, nil, ClassFatal, models.ErrKindClient},
		{"malformed", 200, fmt.Errorf("decode: %w", ErrMalformed), ClassFatal, models.ErrKindMalformed},
		{"captcha page", 200, fmt.Errorf("%w: captcha", ErrRateLimited), ClassTransient, models.ErrKindRateLimited},
		{"invalid key", 0, ErrInvalidKey, ClassFatal, models.ErrKindInvalidKey},
		{"net timeout", 0, timeoutError{}, ClassTransient, models.ErrKindTimeout},
		{"connection refused", 0, errors.New("connection refused"), ClassTransient, models.ErrKindConnection},
		{"canceled", 0, context.Canceled, ClassFatal, models.ErrKindCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, kind := Classify(tt.status, tt.err)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 8, 23, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}
