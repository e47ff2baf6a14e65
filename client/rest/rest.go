/*
Package rest provides the HTTP layer of the CopyFactory client: a retrying
HTTP client, the mapping of error responses to typed errors, and the
DomainClient which resolves service hosts and regions.
*/
package rest // import "github.com/y3sh/copyfactory-sdk-go/client/rest"

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/y3sh/copyfactory-sdk-go/metrics"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultExtendedTimeout = 120 * time.Second

	// TokenHeader carries the API token on every request.
	TokenHeader = "auth-token"

	maxErrorBodySize = 1 << 20
)

var (
	// ErrNoHosts is returned by RequestWithFailover when no candidate hosts
	// are given.
	ErrNoHosts = errors.New("no candidate hosts")
)

// RequestOpts describes a single logical request.
type RequestOpts struct {
	Method string

	// URL is the absolute request URL. When empty, Host and Path are
	// joined instead.
	URL  string
	Host string
	Path string

	Query   url.Values
	Headers http.Header

	// Body, if not nil, is sent JSON-encoded.
	Body interface{}

	// Timeout overrides the client timeout for this request.
	Timeout time.Duration

	// Extended selects the extended timeout, for slow operations and long
	// polling.
	Extended bool
}

func (o *RequestOpts) url(host string) string {
	u := o.URL
	if u == "" {
		if host == "" {
			host = o.Host
		}
		u = strings.TrimSuffix(host, "/") + o.Path
	}
	if len(o.Query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + o.Query.Encode()
	}
	return u
}

// HTTPClientParams contains params for NewHTTPClient. All fields are
// optional.
type HTTPClientParams struct {
	// Timeout of a single attempt; DefaultTimeout if zero.
	Timeout time.Duration

	// ExtendedTimeout is used for requests with Extended set;
	// DefaultExtendedTimeout if zero.
	ExtendedTimeout time.Duration

	// RetryOpts is the retry policy; DefaultRetryOpts() if nil.
	RetryOpts *RetryOpts

	// RateLimit, if positive, limits the rate of request attempts made by
	// this client. Burst defaults to 1.
	RateLimit rate.Limit
	Burst     int

	// Client is the underlying http.Client; a new one if nil.
	Client *http.Client

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics

	clock clock.Clock
	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// HTTPClient issues JSON requests, retrying transient failures with
// exponential backoff. It is safe for concurrent use.
type HTTPClient struct {
	params  HTTPClientParams
	retry   RetryOpts
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTPClient creates an HTTPClient. params may be nil.
func NewHTTPClient(params *HTTPClientParams) *HTTPClient {
	c := &HTTPClient{}

	if params != nil {
		c.params = *params
	}

	if c.params.Timeout <= 0 {
		c.params.Timeout = DefaultTimeout
	}

	if c.params.ExtendedTimeout <= 0 {
		c.params.ExtendedTimeout = DefaultExtendedTimeout
	}

	if c.params.RetryOpts != nil {
		c.retry = c.params.RetryOpts.withDefaults()
	} else {
		c.retry = DefaultRetryOpts()
	}

	if c.params.RateLimit > 0 {
		burst := c.params.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(c.params.RateLimit, burst)
	}

	if c.params.Client == nil {
		c.params.Client = &http.Client{}
	}

	if c.params.Logger != nil {
		c.logger = c.params.Logger.With().Str("component", "http_client").Logger()
	} else {
		c.logger = zerolog.Nop()
	}

	if c.params.clock == nil {
		c.params.clock = clock.New()
	}

	if c.params.sleep == nil {
		c.params.sleep = c.sleepDefault
	}

	return c
}

// RetryOpts returns the retry policy in use.
func (c *HTTPClient) RetryOpts() RetryOpts {
	return c.retry
}

// Now returns the current time of the client clock.
func (c *HTTPClient) Now() time.Time {
	return c.params.clock.Now()
}

// Request performs the request, decoding a JSON response body into out
// (which may be nil, or a *[]byte to receive the raw body). Errors are
// *APIError values, possibly wrapped; use AsAPIError to get them.
func (c *HTTPClient) Request(ctx context.Context, opts *RequestOpts, out interface{}) error {
	return errors.Trace(c.run(ctx, opts, []string{""}, out))
}

// RequestWithFailover performs the request against each of hosts in turn:
// when a host cannot be reached, the next one is tried right away. Once
// every host failed, the whole round is retried according to the retry
// policy.
func (c *HTTPClient) RequestWithFailover(
	ctx context.Context, opts *RequestOpts, hosts []string, out interface{},
) error {
	if len(hosts) == 0 {
		return errors.Trace(ErrNoHosts)
	}
	return errors.Trace(c.run(ctx, opts, hosts, out))
}

func (c *HTTPClient) run(ctx context.Context, opts *RequestOpts, hosts []string, out interface{}) error {
	for n := 1; ; n++ {
		var err error

		for i, host := range hosts {
			err = c.attempt(ctx, opts, host, out)
			if err == nil {
				return nil
			}

			if ctx.Err() != nil || !IsHostFailure(err) {
				break
			}

			if i < len(hosts)-1 {
				c.logger.Warn().
					Str("url", opts.url(host)).
					Str("next", opts.url(hosts[i+1])).
					Err(err).
					Msg("host failed, trying next one")
				c.params.Metrics.IncFailover()
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Trace(ctxErr)
		}

		if n > c.retry.Retries {
			return errors.Trace(err)
		}

		delay, ok := c.retry.RetryDelay(n, err, c.params.clock.Now())
		if !ok {
			return errors.Trace(err)
		}

		kind := KindInternal
		if e, ok := AsAPIError(err); ok {
			kind = e.Kind
		}
		c.params.Metrics.IncRetry(kind.String())

		c.logger.Debug().
			Str("method", opts.Method).
			Str("url", opts.url(hosts[0])).
			Int("retry", n).
			Dur("delay", delay).
			Err(err).
			Msg("retrying request")

		if err := c.params.sleep(ctx, delay); err != nil {
			return errors.Trace(err)
		}
	}
}

func (c *HTTPClient) attempt(ctx context.Context, opts *RequestOpts, host string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Trace(err)
		}
	}

	timeout := c.params.Timeout
	if opts.Extended {
		timeout = c.params.ExtendedTimeout
	}
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := opts.url(host)

	req, err := newRequest(attemptCtx, opts, u)
	if err != nil {
		return errors.Trace(err)
	}

	start := time.Now()
	resp, err := c.params.Client.Do(req)
	if err != nil {
		c.params.Metrics.ObserveRequest(req.Method, 0, time.Since(start))
		switch {
		case ctx.Err() != nil:
			return errors.Trace(ctx.Err())
		case attemptCtx.Err() == context.DeadlineExceeded:
			return newTimeoutError(u, err)
		}
		return newTransportError(u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize(resp.StatusCode)))
	c.params.Metrics.ObserveRequest(req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return newTimeoutError(u, err)
		}
		return newTransportError(u, err)
	}

	switch {
	case resp.StatusCode == http.StatusAccepted && resp.Header.Get("Retry-After") != "":
		return c.acceptedError(u, resp.Header.Get("Retry-After"))

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return MapResponse(resp.StatusCode, body, u)
	}

	return errors.Annotatef(decodeBody(body, out), "decoding response of %s", u)
}

// acceptedError is returned when the server accepted the request but asks
// to repeat it later to get the result.
func (c *HTTPClient) acceptedError(u, retryAfter string) *APIError {
	now := c.params.clock.Now()

	var at time.Time
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
		at = now.Add(time.Duration(secs) * time.Second)
	} else if t, err := http.ParseTime(retryAfter); err == nil {
		at = t
	} else {
		at = now
	}

	return &APIError{
		Kind:    KindTimeout,
		Status:  http.StatusAccepted,
		Message: "request accepted, result is not ready yet",
		URL:     u,
		Metadata: &ThrottleMetadata{
			RecommendedRetryTime: at,
		},
	}
}

func newRequest(ctx context.Context, opts *RequestOpts, u string) (*http.Request, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, errors.Annotatef(err, "encoding body of %s %s", method, u)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Trace(err)
	}

	for k, vv := range opts.Headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func decodeBody(body []byte, out interface{}) error {
	if out == nil {
		return nil
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], body...)
		return nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	return errors.Trace(json.Unmarshal(body, out))
}

func maxResponseSize(status int) int64 {
	if status >= 200 && status < 300 {
		return 1 << 30
	}
	return maxErrorBodySize
}

func (c *HTTPClient) sleepDefault(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	done := make(chan struct{})
	timer := c.params.clock.AfterFunc(d, func() {
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return errors.Trace(ctx.Err())
	}
}
