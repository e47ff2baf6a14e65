package copyfactory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
)

const testToken = "token"

type recordedRequest struct {
	Method    string
	Path      string
	Query     url.Values
	Body      []byte
	UserAgent string
}

type reply struct {
	status int
	body   string
}

// apiMock serves the provisioning API and records every other request.
// Replies are looked up by "METHOD path"; unknown routes get an empty 200.
type apiMock struct {
	mtx      sync.Mutex
	routes   map[string]reply
	requests []recordedRequest
}

func (m *apiMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(rest.TokenHeader) != testToken {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid token"}`))
		return
	}

	switch {
	case r.URL.Path == "/users/current/servers/mt-client-api":
		w.Write([]byte(`{"hostname":"mt-client-api-v1","domain":"agiliumtrade.ai"}`))
		return
	case strings.HasPrefix(r.URL.Path, "/users/current/accounts/"):
		w.Write([]byte(`{"_id":"acc1","region":"vint-hill","accountReplicas":[{"region":"new-york"}]}`))
		return
	}

	body, _ := io.ReadAll(r.Body)

	m.mtx.Lock()
	m.requests = append(m.requests, recordedRequest{
		Method:    r.Method,
		Path:      r.URL.EscapedPath(),
		Query:     r.URL.Query(),
		Body:      body,
		UserAgent: r.Header.Get("User-Agent"),
	})
	rep, ok := m.routes[r.Method+" "+r.URL.EscapedPath()]
	m.mtx.Unlock()

	if !ok {
		return
	}
	w.WriteHeader(rep.status)
	w.Write([]byte(rep.body))
}

func (m *apiMock) route(method, path string, status int, body string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.routes[method+" "+path] = reply{status: status, body: body}
}

func (m *apiMock) recorded() []recordedRequest {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

func (m *apiMock) last(t *testing.T) recordedRequest {
	t.Helper()
	reqs := m.recorded()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func newTestCopyFactory(t *testing.T) (*CopyFactory, *apiMock, *httptest.Server) {
	m := &apiMock{routes: map[string]reply{}}
	ts := httptest.NewServer(m)

	cf, err := New(testToken, &Params{
		ProvisioningURL: ts.URL,
		HostURL: func(region, domain string) string {
			return ts.URL
		},
		RetryOpts:    &rest.RetryOpts{Retries: 0},
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	return cf, m, ts
}

func decodeJSON(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New("", nil)
	assert.Equal(t, rest.ErrNoToken, errors.Cause(err))
}

func TestRequestsCarryUserAgent(t *testing.T) {
	cf, m, ts := newTestCopyFactory(t)
	defer ts.Close()

	_, err := cf.Configuration.GetStrategies(context.Background(), nil)
	if err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
	assert.Equal(t, "copyfactory-sdk-go/"+Version, m.last(t).UserAgent)
}
