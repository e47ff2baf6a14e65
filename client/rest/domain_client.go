package rest

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDomain is the domain of the production environment.
	DefaultDomain = "agiliumtrade.agiliumtrade.ai"

	// lookupTimeout bounds a host or account lookup shared by concurrent
	// callers.
	lookupTimeout = 2 * time.Minute

	serverSettingsPath = "/users/current/servers/mt-client-api"
	accountPath        = "/users/current/accounts/"
)

var (
	ErrNoToken   = errors.New("API token is required")
	ErrNoRegions = errors.New("no regions given")
)

// DefaultHostURL builds the CopyFactory API URL for a region, or the
// region-agnostic URL when region is empty.
func DefaultHostURL(region, domain string) string {
	if region == "" {
		return "https://copyfactory-api-v1." + domain
	}
	return "https://copyfactory-api-v1." + region + "." + domain
}

// DomainClientParams contains params for NewDomainClient.
type DomainClientParams struct {
	// Token is the API token; required.
	Token string

	// Domain selects the service environment; DefaultDomain if empty.
	Domain string

	// ProvisioningURL is the URL of the provisioning API, used to resolve
	// hosts and account regions. Defaults to
	// https://mt-provisioning-api-v1.<Domain>.
	ProvisioningURL string

	// HostURL builds the API URL from a region and the domain reported by
	// the provisioning API; DefaultHostURL if nil.
	HostURL func(region, domain string) string

	// HTTPClient performs all requests; a default one if nil.
	HTTPClient *HTTPClient

	Logger *zerolog.Logger
}

// AccountInfo holds the regions an account is available in, primary region
// first.
type AccountInfo struct {
	ID      string
	Region  string
	Regions []string
}

// SignalClientHost is the result of resolving the regions of an account.
// Regions starts with Region, the first region which resolved.
type SignalClientHost struct {
	Host    string
	Region  string
	Regions []string
}

type serverSettings struct {
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
}

type accountDescr struct {
	ID              string `json:"_id"`
	Region          string `json:"region"`
	AccountReplicas []struct {
		Region string `json:"region"`
	} `json:"accountReplicas"`
}

// DomainClient sends authenticated requests to CopyFactory hosts, resolving
// and caching the host of each region.
type DomainClient struct {
	params DomainClientParams
	logger zerolog.Logger

	mtx         sync.Mutex
	regionHosts map[string]string
	accounts    map[string]*AccountInfo

	group singleflight.Group
}

// NewDomainClient creates a DomainClient.
func NewDomainClient(params *DomainClientParams) (*DomainClient, error) {
	if params == nil || params.Token == "" {
		return nil, errors.Trace(ErrNoToken)
	}

	dc := &DomainClient{
		params:      *params,
		regionHosts: make(map[string]string),
		accounts:    make(map[string]*AccountInfo),
	}

	if dc.params.Domain == "" {
		dc.params.Domain = DefaultDomain
	}

	if dc.params.ProvisioningURL == "" {
		dc.params.ProvisioningURL = "https://mt-provisioning-api-v1." + dc.params.Domain
	}

	if dc.params.HostURL == nil {
		dc.params.HostURL = DefaultHostURL
	}

	if dc.params.HTTPClient == nil {
		dc.params.HTTPClient = NewHTTPClient(&HTTPClientParams{
			Logger: dc.params.Logger,
		})
	}

	if dc.params.Logger != nil {
		dc.logger = dc.params.Logger.With().Str("component", "domain_client").Logger()
	} else {
		dc.logger = zerolog.Nop()
	}

	return dc, nil
}

// Domain returns the configured domain.
func (dc *DomainClient) Domain() string {
	return dc.params.Domain
}

// HTTPClient returns the underlying HTTP client.
func (dc *DomainClient) HTTPClient() *HTTPClient {
	return dc.params.HTTPClient
}

// RequestCopyFactory sends a request to the region-agnostic CopyFactory
// host. opts.Path is relative to the host.
func (dc *DomainClient) RequestCopyFactory(ctx context.Context, opts *RequestOpts, out interface{}) error {
	host, err := dc.resolveHost(ctx, "")
	if err != nil {
		return errors.Trace(err)
	}

	o := dc.authorize(opts)
	o.Host = host

	if err := dc.params.HTTPClient.Request(ctx, o, out); err != nil {
		if IsHostFailure(err) {
			dc.invalidate("")
		}
		return errors.Trace(err)
	}

	return nil
}

// Request sends an authenticated request to an absolute URL.
func (dc *DomainClient) Request(ctx context.Context, opts *RequestOpts, out interface{}) error {
	return errors.Trace(dc.params.HTTPClient.Request(ctx, dc.authorize(opts), out))
}

// GetSignalClientHost returns the host of the first region in regions
// which resolves. Failures to resolve a region are logged and the next one
// is tried.
func (dc *DomainClient) GetSignalClientHost(ctx context.Context, regions []string) (*SignalClientHost, error) {
	if len(regions) == 0 {
		return nil, errors.Trace(ErrNoRegions)
	}

	var lastErr error
	for i, region := range regions {
		host, err := dc.resolveHost(ctx, region)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Trace(ctx.Err())
			}
			dc.logger.Warn().Str("region", region).Err(err).Msg("failed to resolve region")
			lastErr = err
			continue
		}

		ordered := make([]string, 0, len(regions))
		ordered = append(ordered, region)
		ordered = append(ordered, regions[:i]...)
		ordered = append(ordered, regions[i+1:]...)

		return &SignalClientHost{
			Host:    host,
			Region:  region,
			Regions: ordered,
		}, nil
	}

	return nil, errors.Trace(resolutionError(lastErr))
}

// RequestSignal sends a request to the hosts of host.Regions, failing over
// to the next region when a host cannot be reached. opts.Path is relative
// to the host.
func (dc *DomainClient) RequestSignal(
	ctx context.Context, opts *RequestOpts, host *SignalClientHost, out interface{},
) error {
	regions := host.Regions
	if len(regions) == 0 {
		regions = []string{host.Region}
	}

	var (
		hosts    []string
		resolved []string
		lastErr  error
	)
	for _, region := range regions {
		h, err := dc.resolveHost(ctx, region)
		if err != nil {
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			lastErr = err
			continue
		}
		hosts = append(hosts, h)
		resolved = append(resolved, region)
	}

	if len(hosts) == 0 {
		return errors.Trace(resolutionError(lastErr))
	}

	if err := dc.params.HTTPClient.RequestWithFailover(ctx, dc.authorize(opts), hosts, out); err != nil {
		if IsHostFailure(err) {
			dc.invalidate(resolved...)
		}
		return errors.Trace(err)
	}

	return nil
}

// GetAccountInfo returns the regions of an account; results are cached.
func (dc *DomainClient) GetAccountInfo(ctx context.Context, accountID string) (*AccountInfo, error) {
	dc.mtx.Lock()
	info, ok := dc.accounts[accountID]
	dc.mtx.Unlock()
	if ok {
		return info, nil
	}

	v, err := dc.lookup(ctx, "account:"+accountID, func(ctx context.Context) (interface{}, error) {
		var descr accountDescr
		err := dc.Request(ctx, &RequestOpts{
			Method: http.MethodGet,
			URL:    dc.params.ProvisioningURL + accountPath + url.PathEscape(accountID),
		}, &descr)
		if err != nil {
			return nil, errors.Trace(err)
		}

		info := &AccountInfo{
			ID:     accountID,
			Region: descr.Region,
		}
		seen := map[string]bool{}
		add := func(region string) {
			if !seen[region] {
				seen[region] = true
				info.Regions = append(info.Regions, region)
			}
		}
		add(descr.Region)
		for _, r := range descr.AccountReplicas {
			if r.Region != "" {
				add(r.Region)
			}
		}

		dc.mtx.Lock()
		dc.accounts[accountID] = info
		dc.mtx.Unlock()

		return info, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return v.(*AccountInfo), nil
}

// resolveHost returns the API host of a region; the empty region means the
// region-agnostic host.
func (dc *DomainClient) resolveHost(ctx context.Context, region string) (string, error) {
	dc.mtx.Lock()
	host, ok := dc.regionHosts[region]
	dc.mtx.Unlock()
	if ok {
		return host, nil
	}

	v, err := dc.lookup(ctx, "region:"+region, func(ctx context.Context) (interface{}, error) {
		opts := &RequestOpts{
			Method: http.MethodGet,
			URL:    dc.params.ProvisioningURL + serverSettingsPath,
		}
		if region != "" {
			opts.Query = url.Values{"region": {region}}
		}

		var settings serverSettings
		if err := dc.Request(ctx, opts, &settings); err != nil {
			return nil, errors.Annotatef(err, "resolving region %q", region)
		}

		domain := settings.Domain
		if domain == "" {
			domain = dc.params.Domain
		}
		host := dc.params.HostURL(region, domain)

		dc.mtx.Lock()
		dc.regionHosts[region] = host
		dc.mtx.Unlock()

		dc.logger.Debug().Str("region", region).Str("host", host).Msg("resolved host")

		return host, nil
	})
	if err != nil {
		return "", errors.Trace(err)
	}

	return v.(string), nil
}

// lookup runs fn once for all concurrent callers with the same key. fn
// runs on a context which keeps the values of ctx but is not cancelled with
// it: a caller whose ctx is done stops waiting, while the lookup goes on for
// the others and its result is cached.
func (dc *DomainClient) lookup(
	ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	ch := dc.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return fn(lookupCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, errors.Trace(res.Err)
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (dc *DomainClient) invalidate(regions ...string) {
	dc.mtx.Lock()
	defer dc.mtx.Unlock()

	for _, region := range regions {
		delete(dc.regionHosts, region)
	}
	dc.logger.Debug().Strs("regions", regions).Msg("invalidated cached hosts")
}

// authorize returns a copy of opts carrying the token header.
func (dc *DomainClient) authorize(opts *RequestOpts) *RequestOpts {
	o := *opts
	o.Headers = make(http.Header, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		o.Headers[k] = v
	}
	o.Headers.Set(TokenHeader, dc.params.Token)
	return &o
}

func resolutionError(err error) error {
	if _, ok := AsAPIError(err); ok {
		return err
	}
	return &APIError{
		Kind:    KindInternal,
		Message: "no region could be resolved",
		err:     err,
	}
}
