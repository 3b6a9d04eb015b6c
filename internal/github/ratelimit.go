package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	gogithub "github.com/google/go-github/v60/github"
)

// maxWait caps how long a caller is told to wait for a rate limit reset.
const maxWait = 60 * time.Second

// IsTransient reports whether a GitHub API error is worth retrying: rate
// limits, 5xx responses and transport failures. Other 4xx responses and
// context cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rle *gogithub.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return true
	}

	var er *gogithub.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}

	return true
}

// RetryAfter returns how long GitHub asked the caller to wait, or zero when
// err carries no such hint. The result is capped at one minute.
func RetryAfter(err error, now time.Time) time.Duration {
	var d time.Duration

	var rle *gogithub.RateLimitError
	var abuse *gogithub.AbuseRateLimitError
	switch {
	case errors.As(err, &rle):
		d = rle.Rate.Reset.Time.Sub(now)
	case errors.As(err, &abuse):
		d = abuse.GetRetryAfter()
	}

	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}
