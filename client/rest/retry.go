package rest

import (
	"time"
)

// Default retry policy.
const (
	DefaultRetries  = 5
	DefaultMinDelay = 1 * time.Second
	DefaultMaxDelay = 30 * time.Second
)

// RetryOpts configures how failed requests are retried. Only retryable
// errors (internal, timeout, too many requests) are retried.
type RetryOpts struct {
	// Retries is the maximum number of retries; a request is attempted at
	// most Retries+1 times. Zero disables retries.
	Retries int

	// MinDelay is the delay before the first retry; each further retry
	// doubles it, up to MaxDelay. Zero values are replaced with
	// DefaultMinDelay and DefaultMaxDelay.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRetryOpts returns the default retry policy: 5 retries, delays from
// 1s to 30s.
func DefaultRetryOpts() RetryOpts {
	return RetryOpts{
		Retries:  DefaultRetries,
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
	}
}

func (o RetryOpts) withDefaults() RetryOpts {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.MinDelay <= 0 {
		o.MinDelay = DefaultMinDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	return o
}

// Backoff returns the delay before the n-th retry (n starts at 1):
// min(MaxDelay, MinDelay * 2^(n-1)).
func (o RetryOpts) Backoff(n int) time.Duration {
	o = o.withDefaults()

	d := o.MinDelay
	for i := 1; i < n && d < o.MaxDelay; i++ {
		d *= 2
	}
	if d > o.MaxDelay {
		d = o.MaxDelay
	}

	return d
}

// RetryDelay returns the delay before the n-th retry after err, and false
// if err should not be retried at all. A rate limit error is never retried
// before its recommended retry time; if that time lies further ahead than
// MaxDelay, the error is not retried.
func (o RetryOpts) RetryDelay(n int, err error, now time.Time) (time.Duration, bool) {
	o = o.withDefaults()

	e, ok := AsAPIError(err)
	if !ok || !e.Retryable() {
		return 0, false
	}

	d := o.Backoff(n)
	if rd, ok := e.RecommendedRetryDelay(now); ok {
		if rd > o.MaxDelay {
			return 0, false
		}
		if rd > d {
			d = rd
		}
	}

	return d, true
}
