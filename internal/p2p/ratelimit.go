package p2p

import "golang.org/x/time/rate"

// newMessageLimiter returns a token bucket sized per the protocol's inbound
// message rate limit: RateLimitCapacity tokens, refilled at RateLimitRefill
// tokens/second. A connection that drains it faster than it refills has
// exceeded the limit and is disconnected.
func newMessageLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(RateLimitRefill), RateLimitCapacity)
}
