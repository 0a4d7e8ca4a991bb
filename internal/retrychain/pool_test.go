package retrychain

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPoolConfig() PoolConfig {
	return PoolConfig{
		HedgeAfter:             50 * time.Millisecond,
		HedgeUpstreams:         2,
		BreakerMaxRequests:     1,
		BreakerOpenTimeout:     time.Second,
		BreakerFailureRatio:    0.5,
		BackoffEventsPerSecond: 100,
		BackoffBurst:           1,
	}
}

func TestPoolHTTPClientRoundTripsSuccessfully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewPool(testPoolConfig())
	require.NoError(t, err)

	resp, err := p.HTTPClient().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPoolPassesThroughServerErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewPool(testPoolConfig())
	require.NoError(t, err)

	resp, err := p.HTTPClient().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestPoolBackoffIsConfigured(t *testing.T) {
	p, err := NewPool(testPoolConfig())
	require.NoError(t, err)
	require.NotNil(t, p.Backoff())
}
