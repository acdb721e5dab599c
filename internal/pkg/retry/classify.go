package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mangaraw/harvester/pkg/models"
)

// Class is the classification of a single HTTP exchange.
type Class int

const (
	// ClassOK is a 2xx response with a well-formed body
	ClassOK Class = iota
	// ClassNotFound is a 404/405: the item does not exist, it is not a failure
	ClassNotFound
	// ClassTransient is worth retrying
	ClassTransient
	// ClassFatal is never retried
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassNotFound:
		return "not_found"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	// ErrMalformed marks a response whose body could not be parsed.
	ErrMalformed = errors.New("malformed response")
	// ErrInvalidKey marks a request that cannot be built for the given key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrRateLimited marks a 2xx response that is a throttling page, such as
	// a captcha, rather than the requested content.
	ErrRateLimited = errors.New("rate limited")
)

// Classify maps the result of one exchange to a Class and, for failures, an ErrorKind.
// A non-nil err takes precedence over the status code.
func Classify(status int, err error) (Class, models.ErrorKind) {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !isNetTimeout(err):
			return ClassFatal, models.ErrKindCanceled
		case errors.Is(err, ErrRateLimited):
			return ClassTransient, models.ErrKindRateLimited
		case errors.Is(err, ErrMalformed):
			return ClassFatal, models.ErrKindMalformed
		case errors.Is(err, ErrInvalidKey):
			return ClassFatal, models.ErrKindInvalidKey
		case isNetTimeout(err):
			return ClassTransient, models.ErrKindTimeout
		default:
			return ClassTransient, models.ErrKindConnection
		}
	}

	switch {
	case status >= 200 && status < 300:
		return ClassOK, models.ErrKindNone
	case status == http.StatusNotFound, status == http.StatusMethodNotAllowed:
		return ClassNotFound, models.ErrKindNone
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly:
		return ClassTransient, models.ErrKindTimeout
	case status == http.StatusTooManyRequests:
		return ClassTransient, models.ErrKindRateLimited
	case status >= 500:
		return ClassTransient, models.ErrKindServer
	}

	return ClassFatal, models.ErrKindClient
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date.
// It returns 0 when the header is absent or unusable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if date, err := http.ParseTime(value); err == nil {
		if d := date.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}
