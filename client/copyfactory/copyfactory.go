package copyfactory // import "github.com/y3sh/copyfactory-sdk-go/client/copyfactory"

import (
	"context"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
	"github.com/y3sh/copyfactory-sdk-go/client/streaming"
	"github.com/y3sh/copyfactory-sdk-go/metrics"
)

// Version of the SDK, sent in the User-Agent header.
const Version = "1.0.0"

// Params contains params for New. All fields are optional.
type Params struct {
	// Domain selects the service environment; rest.DefaultDomain if empty.
	Domain string

	// RequestTimeout is the timeout of a single request attempt.
	RequestTimeout time.Duration

	// ExtendedTimeout is used for resynchronization and stream requests.
	ExtendedTimeout time.Duration

	RetryOpts *rest.RetryOpts

	// PollInterval is the wait of listeners between empty fetches.
	PollInterval time.Duration

	// RateLimit, if positive, limits request attempts per second.
	RateLimit rate.Limit
	Burst     int

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics

	// ProvisioningURL and HostURL override host resolution, see
	// rest.DomainClientParams.
	ProvisioningURL string
	HostURL         func(region, domain string) string

	// HTTPClient is the underlying http.Client.
	HTTPClient *http.Client
}

// CopyFactory is the entry point of the API. It is safe for concurrent use.
type CopyFactory struct {
	Configuration *ConfigurationClient
	History       *HistoryClient
	Trading       *TradingClient

	domain *rest.DomainClient
}

// New creates a CopyFactory client authenticated with token.
func New(token string, params *Params) (*CopyFactory, error) {
	var p Params
	if params != nil {
		p = *params
	}

	httpClient := rest.NewHTTPClient(&rest.HTTPClientParams{
		Timeout:         p.RequestTimeout,
		ExtendedTimeout: p.ExtendedTimeout,
		RetryOpts:       p.RetryOpts,
		RateLimit:       p.RateLimit,
		Burst:           p.Burst,
		Client:          p.HTTPClient,
		Logger:          p.Logger,
		Metrics:         p.Metrics,
	})

	domain, err := rest.NewDomainClient(&rest.DomainClientParams{
		Token:           token,
		Domain:          p.Domain,
		ProvisioningURL: p.ProvisioningURL,
		HostURL:         p.HostURL,
		HTTPClient:      httpClient,
		Logger:          p.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	listenerParams := &streaming.ListenerParams{
		PollInterval: p.PollInterval,
		Logger:       p.Logger,
		Metrics:      p.Metrics,
	}

	v := newArgValidator(httpClient.Now)

	return &CopyFactory{
		Configuration: newConfigurationClient(domain, v),
		History:       newHistoryClient(domain, v, listenerParams),
		Trading:       newTradingClient(domain, v, listenerParams),
		domain:        domain,
	}, nil
}

// Close removes all listeners registered through this client and waits
// until they quit, or ctx is done.
func (cf *CopyFactory) Close(ctx context.Context) error {
	if err := cf.History.transactions.Close(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := cf.Trading.stopouts.Close(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(cf.Trading.userLogs.Close(ctx))
}

// request sends a request to the region-agnostic host.
func request(ctx context.Context, domain *rest.DomainClient, opts *rest.RequestOpts, out interface{}) error {
	if opts.Headers == nil {
		opts.Headers = http.Header{}
	}
	opts.Headers.Set("User-Agent", "copyfactory-sdk-go/"+Version)

	return errors.Trace(domain.RequestCopyFactory(ctx, opts, out))
}
