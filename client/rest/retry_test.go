package rest

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	opts := RetryOpts{Retries: 10, MinDelay: time.Second, MaxDelay: 30 * time.Second}

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, opts.Backoff(i+1), "retry %d", i+1)
	}

	// Large retry numbers must not overflow.
	assert.Equal(t, 30*time.Second, opts.Backoff(1000))
}

func TestBackoffDefaults(t *testing.T) {
	var opts RetryOpts
	assert.Equal(t, DefaultMinDelay, opts.Backoff(1))
	assert.Equal(t, DefaultMaxDelay, opts.Backoff(20))

	d := DefaultRetryOpts()
	assert.Equal(t, 5, d.Retries)
	assert.Equal(t, time.Second, d.MinDelay)
	assert.Equal(t, 30*time.Second, d.MaxDelay)
}

func TestRetryDelay(t *testing.T) {
	opts := DefaultRetryOpts()
	now := mustTimeParse("May 1, 2018 at 00:00:00 +0000")

	_, ok := opts.RetryDelay(1, MapResponse(404, nil, ""), now)
	assert.False(t, ok)

	_, ok = opts.RetryDelay(1, errors.New("not an api error"), now)
	assert.False(t, ok)

	d, ok := opts.RetryDelay(3, MapResponse(503, nil, ""), now)
	assert.True(t, ok)
	assert.Equal(t, 4*time.Second, d)

	throttled := MapResponse(429, nil, "")
	throttled.Metadata = &ThrottleMetadata{RecommendedRetryTime: now.Add(10 * time.Second)}
	d, ok = opts.RetryDelay(1, errors.Trace(throttled), now)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	// A shorter recommendation never shortens the backoff.
	throttled.Metadata.RecommendedRetryTime = now.Add(time.Second)
	d, ok = opts.RetryDelay(4, throttled, now)
	assert.True(t, ok)
	assert.Equal(t, 8*time.Second, d)

	throttled.Metadata.RecommendedRetryTime = now.Add(time.Minute)
	_, ok = opts.RetryDelay(1, throttled, now)
	assert.False(t, ok)
}
