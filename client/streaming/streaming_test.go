package streaming

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/y3sh/copyfactory-sdk-go/client/rest"
)

const (
	testToken   = "token"
	testTimeout = 2 * time.Second
	testTick    = 2 * time.Millisecond
)

// streamMock serves the provisioning API and the stream endpoints. Replies
// of stream endpoints come from handle, which gets the number of earlier
// requests to the same path.
type streamMock struct {
	handle func(r *http.Request, n int) (int, interface{})

	mtx      sync.Mutex
	requests map[string][]url.Values
}

func (s *streamMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(rest.TokenHeader) != testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/users/current/servers/mt-client-api" {
		w.Write([]byte(`{}`))
		return
	}

	s.mtx.Lock()
	n := len(s.requests[r.URL.Path])
	s.requests[r.URL.Path] = append(s.requests[r.URL.Path], r.URL.Query())
	s.mtx.Unlock()

	status, body := s.handle(r, n)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// queries returns the query strings of requests to path.
func (s *streamMock) queries(path string) []url.Values {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]url.Values(nil), s.requests[path]...)
}

func newStreamMock(handle func(r *http.Request, n int) (int, interface{})) (*streamMock, *httptest.Server) {
	s := &streamMock{
		handle:   handle,
		requests: map[string][]url.Values{},
	}
	return s, httptest.NewServer(s)
}

func newTestDomain(t *testing.T, ts *httptest.Server) *rest.DomainClient {
	dc, err := rest.NewDomainClient(&rest.DomainClientParams{
		Token:           testToken,
		ProvisioningURL: ts.URL,
		HostURL: func(region, domain string) string {
			return ts.URL
		},
		HTTPClient: rest.NewHTTPClient(&rest.HTTPClientParams{
			RetryOpts: &rest.RetryOpts{Retries: 0},
		}),
	})
	require.NoError(t, err)
	return dc
}

func testListenerParams() *ListenerParams {
	return &ListenerParams{
		PollInterval: 5 * time.Millisecond,
		RetryOpts: &rest.RetryOpts{
			MinDelay: time.Millisecond,
			MaxDelay: 5 * time.Millisecond,
		},
	}
}

// errorRecorder implements ErrorListener.
type errorRecorder struct {
	mtx  sync.Mutex
	errs []error
}

func (e *errorRecorder) OnError(err error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.errs = append(e.errs, err)
}

func (e *errorRecorder) recorded() []error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return append([]error(nil), e.errs...)
}

func mustTimeParse(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}
