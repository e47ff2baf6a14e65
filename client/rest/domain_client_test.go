package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "token-secret"

// provisioningMock serves the provisioning API and region hosts under
// /r/<region>.
type provisioningMock struct {
	t *testing.T

	mtx         sync.Mutex
	resolutions map[string]int
	accounts    int
}

func (p *provisioningMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(TokenHeader) != testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == serverSettingsPath:
		region := r.URL.Query().Get("region")
		p.mtx.Lock()
		p.resolutions[region]++
		p.mtx.Unlock()

		if region == "bad" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Region not found"}`))
			return
		}
		json.NewEncoder(w).Encode(serverSettings{Hostname: "mt-client-api-v1", Domain: "agiliumtrade.ai"})

	case strings.HasPrefix(r.URL.Path, accountPath):
		p.mtx.Lock()
		p.accounts++
		p.mtx.Unlock()

		w.Write([]byte(`{"_id":"acc1","region":"vint-hill","accountReplicas":[{"region":"new-york"},{"region":"vint-hill"}]}`))

	case strings.HasPrefix(r.URL.Path, "/r/"):
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/r/"), "/", 2)
		path := "/"
		if len(parts) == 2 {
			path += parts[1]
		}
		json.NewEncoder(w).Encode(map[string]string{"region": parts[0], "path": path})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *provisioningMock) resolutionCount(region string) int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.resolutions[region]
}

// regionHost returns the mock host of region; the region-agnostic host is
// served as "global".
func regionHost(base, region string) string {
	if region == "" {
		region = "global"
	}
	return base + "/r/" + region
}

func newDomainClientForTest(t *testing.T, hostURL func(region, domain string) string) (*DomainClient, *provisioningMock, *httptest.Server) {
	pm := &provisioningMock{t: t, resolutions: map[string]int{}}
	ts := httptest.NewServer(pm)

	if hostURL == nil {
		hostURL = func(region, domain string) string {
			return regionHost(ts.URL, region)
		}
	}

	m := newRestMocks()
	dc, err := NewDomainClient(&DomainClientParams{
		Token:           testToken,
		ProvisioningURL: ts.URL,
		HostURL:         hostURL,
		HTTPClient:      m.newHTTPClient(&HTTPClientParams{RetryOpts: &RetryOpts{Retries: 0}}),
	})
	require.NoError(t, err)

	return dc, pm, ts
}

func TestNewDomainClientRequiresToken(t *testing.T) {
	_, err := NewDomainClient(&DomainClientParams{})
	assert.Equal(t, ErrNoToken, errors.Cause(err))

	_, err = NewDomainClient(nil)
	assert.Equal(t, ErrNoToken, errors.Cause(err))
}

func TestDefaultHostURL(t *testing.T) {
	assert.Equal(t, "https://copyfactory-api-v1.agiliumtrade.ai", DefaultHostURL("", "agiliumtrade.ai"))
	assert.Equal(t, "https://copyfactory-api-v1.vint-hill.agiliumtrade.ai", DefaultHostURL("vint-hill", "agiliumtrade.ai"))
}

func TestGetSignalClientHostFailover(t *testing.T) {
	dc, pm, ts := newDomainClientForTest(t, nil)
	defer ts.Close()

	host, err := dc.GetSignalClientHost(context.Background(), []string{"bad", "vint-hill"})
	require.NoError(t, err)

	assert.Equal(t, ts.URL+"/r/vint-hill", host.Host)
	assert.Equal(t, "vint-hill", host.Region)
	assert.Equal(t, []string{"vint-hill", "bad"}, host.Regions)
	assert.Equal(t, 1, pm.resolutionCount("bad"))
	assert.Equal(t, 1, pm.resolutionCount("vint-hill"))

	// Cached now.
	_, err = dc.GetSignalClientHost(context.Background(), []string{"vint-hill"})
	require.NoError(t, err)
	assert.Equal(t, 1, pm.resolutionCount("vint-hill"))
}

func TestGetSignalClientHostAllFail(t *testing.T) {
	dc, _, ts := newDomainClientForTest(t, nil)
	defer ts.Close()

	_, err := dc.GetSignalClientHost(context.Background(), []string{"bad"})
	assert.True(t, IsNotFound(err), "got %v", err)

	_, err = dc.GetSignalClientHost(context.Background(), nil)
	assert.Equal(t, ErrNoRegions, errors.Cause(err))
}

func TestGetSignalClientHostUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	dc, err := NewDomainClient(&DomainClientParams{
		Token:           testToken,
		ProvisioningURL: deadURL,
		HTTPClient:      newRestMocks().newHTTPClient(&HTTPClientParams{RetryOpts: &RetryOpts{Retries: 0}}),
	})
	require.NoError(t, err)

	_, err = dc.GetSignalClientHost(context.Background(), []string{"vint-hill", "new-york"})
	assert.True(t, IsInternal(err), "got %v", err)
}

func TestRequestCopyFactoryCachesHost(t *testing.T) {
	dc, pm, ts := newDomainClientForTest(t, nil)
	defer ts.Close()

	for i := 0; i < 3; i++ {
		var out map[string]string
		err := dc.RequestCopyFactory(context.Background(), &RequestOpts{
			Path: "/users/current/configuration/strategies",
		}, &out)
		require.NoError(t, err)
		assert.Equal(t, "global", out["region"])
		assert.Equal(t, "/users/current/configuration/strategies", out["path"])
	}

	assert.Equal(t, 1, pm.resolutionCount(""))
}

func TestHostInvalidatedAfterHostFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	var (
		mtx   sync.Mutex
		calls int
		alive string
	)
	dc, pm, ts := newDomainClientForTest(t, func(region, domain string) string {
		mtx.Lock()
		defer mtx.Unlock()
		calls++
		if calls == 1 {
			return deadURL
		}
		return regionHost(alive, region)
	})
	defer ts.Close()
	alive = ts.URL

	err := dc.RequestCopyFactory(context.Background(), &RequestOpts{Path: "/x"}, nil)
	assert.True(t, IsHostFailure(err), "got %v", err)

	var out map[string]string
	require.NoError(t, dc.RequestCopyFactory(context.Background(), &RequestOpts{Path: "/x"}, &out))
	assert.Equal(t, "/x", out["path"])
	assert.Equal(t, 2, pm.resolutionCount(""))
}

func TestGetAccountInfo(t *testing.T) {
	dc, pm, ts := newDomainClientForTest(t, nil)
	defer ts.Close()

	info, err := dc.GetAccountInfo(context.Background(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, "vint-hill", info.Region)
	assert.Equal(t, []string{"vint-hill", "new-york"}, info.Regions)

	_, err = dc.GetAccountInfo(context.Background(), "acc1")
	require.NoError(t, err)

	pm.mtx.Lock()
	assert.Equal(t, 1, pm.accounts)
	pm.mtx.Unlock()
}

func TestRequestSignalFailsOverAcrossRegions(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	var alive string
	dc, _, ts := newDomainClientForTest(t, func(region, domain string) string {
		if region == "vint-hill" {
			return deadURL
		}
		return regionHost(alive, region)
	})
	defer ts.Close()
	alive = ts.URL

	host, err := dc.GetSignalClientHost(context.Background(), []string{"vint-hill", "new-york"})
	require.NoError(t, err)
	assert.Equal(t, deadURL, host.Host)

	var out map[string]string
	err = dc.RequestSignal(context.Background(), &RequestOpts{
		Path: "/users/current/subscribers/acc1/signals",
	}, host, &out)
	require.NoError(t, err)
	assert.Equal(t, "new-york", out["region"])
	assert.Equal(t, "/users/current/subscribers/acc1/signals", out["path"])
}

func TestTokenNotInErrors(t *testing.T) {
	dc, _, ts := newDomainClientForTest(t, nil)
	defer ts.Close()

	_, err := dc.GetSignalClientHost(context.Background(), []string{"bad"})
	require.Error(t, err)
	assert.NotContains(t, errors.ErrorStack(err), testToken)
}

// gatedProvisioning holds requests to gatedPath until release is closed.
func gatedProvisioning(pm *provisioningMock, gatedPath string) (http.Handler, <-chan struct{}, chan struct{}) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, gatedPath) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
		}
		pm.ServeHTTP(w, r)
	})

	return h, entered, release
}

func TestSharedLookupSurvivesCancelledCaller(t *testing.T) {
	for _, tc := range []struct {
		name      string
		gatedPath string
		call      func(ctx context.Context, dc *DomainClient) error
		count     func(pm *provisioningMock) int
	}{
		{
			name:      "host",
			gatedPath: serverSettingsPath,
			call: func(ctx context.Context, dc *DomainClient) error {
				return dc.RequestCopyFactory(ctx, &RequestOpts{Path: "/x"}, nil)
			},
			count: func(pm *provisioningMock) int {
				return pm.resolutionCount("")
			},
		},
		{
			name:      "account",
			gatedPath: accountPath,
			call: func(ctx context.Context, dc *DomainClient) error {
				_, err := dc.GetAccountInfo(ctx, "acc1")
				return err
			},
			count: func(pm *provisioningMock) int {
				pm.mtx.Lock()
				defer pm.mtx.Unlock()
				return pm.accounts
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pm := &provisioningMock{t: t, resolutions: map[string]int{}}
			h, entered, release := gatedProvisioning(pm, tc.gatedPath)
			ts := httptest.NewServer(h)
			defer ts.Close()
			unblock := sync.OnceFunc(func() { close(release) })
			defer unblock()

			dc, err := NewDomainClient(&DomainClientParams{
				Token:           testToken,
				ProvisioningURL: ts.URL,
				HostURL: func(region, domain string) string {
					return regionHost(ts.URL, region)
				},
				HTTPClient: newRestMocks().newHTTPClient(&HTTPClientParams{RetryOpts: &RetryOpts{Retries: 0}}),
			})
			require.NoError(t, err)

			ctxA, cancelA := context.WithCancel(context.Background())
			errA := make(chan error, 1)
			go func() {
				errA <- tc.call(ctxA, dc)
			}()

			select {
			case <-entered:
			case <-time.After(5 * time.Second):
				t.Fatal("lookup did not start")
			}

			errB := make(chan error, 1)
			go func() {
				errB <- tc.call(context.Background(), dc)
			}()

			cancelA()
			select {
			case err := <-errA:
				assert.Equal(t, context.Canceled, errors.Cause(err))
			case <-time.After(5 * time.Second):
				t.Fatal("cancelled caller kept waiting")
			}

			unblock()
			select {
			case err := <-errB:
				if err != nil {
					t.Fatal(errors.ErrorStack(err))
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out")
			}

			// The lookup finished despite the cancellation and was cached.
			require.NoError(t, tc.call(context.Background(), dc))
			assert.Equal(t, 1, tc.count(pm))
		})
	}
}
