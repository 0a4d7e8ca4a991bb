package retrychain

import (
	"errors"
	"net/http"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// errServerError marks a 5xx response as a breaker failure without being
// surfaced to the caller, who sees the response itself instead (per
// http.RoundTripper's contract: only transport failures are errors, not
// HTTP status codes).
var errServerError = errors.New("retrychain: server error response")

// PoolConfig tunes the shared client pool spec.md §9 describes as sitting
// behind every retry-chain node: one circuit breaker and one hedged HTTP
// client per core, not per call.
type PoolConfig struct {
	// HedgeAfter is how long a request waits before an additional hedged
	// attempt fires against the same object-store endpoint.
	HedgeAfter time.Duration
	// HedgeUpstreams bounds how many hedged attempts run concurrently.
	HedgeUpstreams int

	// BreakerMaxRequests is the number of requests allowed through while
	// the breaker is half-open.
	BreakerMaxRequests uint32
	// BreakerOpenTimeout is how long the breaker stays open before
	// probing with a half-open trial.
	BreakerOpenTimeout time.Duration
	// BreakerFailureRatio trips the breaker open once this fraction of
	// the requests counted since the breaker last closed have failed; the
	// breaker's Interval is left at zero, so those counts are not cleared
	// on a timer while it stays closed.
	BreakerFailureRatio float64

	// BackoffEventsPerSecond and BackoffBurst size the rate.Limiter
	// handed to Node.Do for inter-attempt pacing.
	BackoffEventsPerSecond float64
	BackoffBurst           int
}

// Pool is the per-core shared client pool: one circuit breaker guarding
// the underlying transport, one hedged HTTP client built on top of it,
// and one backoff limiter every retry-chain node paces its attempts
// against.
type Pool struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	backoff *rate.Limiter
}

// NewPool constructs a Pool from cfg, wrapping http.DefaultTransport with
// a hedging round-tripper and a circuit breaker.
func NewPool(cfg PoolConfig) (*Pool, error) {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "retrychain",
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
	})

	hedgedRT, err := hedgedhttp.NewRoundTripper(cfg.HedgeAfter, cfg.HedgeUpstreams, http.DefaultTransport)
	if err != nil {
		return nil, err
	}

	return &Pool{
		client:  &http.Client{Transport: &breakerRoundTripper{breaker: breaker, next: hedgedRT}},
		breaker: breaker,
		backoff: rate.NewLimiter(rate.Limit(cfg.BackoffEventsPerSecond), cfg.BackoffBurst),
	}, nil
}

// HTTPClient returns the pool's breaker-guarded, hedged HTTP client.
func (p *Pool) HTTPClient() *http.Client { return p.client }

// Backoff returns the limiter retry-chain nodes should pace their
// inter-attempt waits against.
func (p *Pool) Backoff() *rate.Limiter { return p.backoff }

// breakerRoundTripper trips p's breaker on every transport-level failure
// or 5xx response, short-circuiting further requests once it opens.
type breakerRoundTripper struct {
	breaker *gobreaker.CircuitBreaker
	next    http.RoundTripper
}

func (rt *breakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.breaker.Execute(func() (interface{}, error) {
		resp, err := rt.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerError
		}
		return resp, nil
	})
	if resp != nil {
		return resp.(*http.Response), nil
	}
	return nil, err
}
