package retrychain

import (
	"flag"
	"time"
)

// RegisterFlagsAndApplyDefaults registers f under prefix and fills in
// defaults for the shared client pool backing every retry-chain node.
func (c *PoolConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.HedgeAfter = 200 * time.Millisecond
	c.HedgeUpstreams = 2
	c.BreakerMaxRequests = 1
	c.BreakerOpenTimeout = 10 * time.Second
	c.BreakerFailureRatio = 0.5
	c.BackoffEventsPerSecond = 5
	c.BackoffBurst = 1

	f.DurationVar(&c.HedgeAfter, prefix+".hedge-after", c.HedgeAfter, "Delay before firing an additional hedged request against the object store.")
	f.IntVar(&c.HedgeUpstreams, prefix+".hedge-upstreams", c.HedgeUpstreams, "Maximum concurrent hedged attempts per request.")
	f.DurationVar(&c.BreakerOpenTimeout, prefix+".breaker-open-timeout", c.BreakerOpenTimeout, "How long the circuit breaker stays open before a half-open trial.")
	f.Float64Var(&c.BreakerFailureRatio, prefix+".breaker-failure-ratio", c.BreakerFailureRatio, "Failure ratio, over requests since the breaker last closed, that trips the breaker open.")
	f.Float64Var(&c.BackoffEventsPerSecond, prefix+".backoff-rate", c.BackoffEventsPerSecond, "Retry attempts per second allowed by the shared backoff limiter.")
	f.IntVar(&c.BackoffBurst, prefix+".backoff-burst", c.BackoffBurst, "Burst size for the shared backoff limiter.")
}
