package filter

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/weftlabs/weft/operation"
)

// RateLimiter fails operations that exceed a per-principal rate,
// keyed by the operation's authorization subject and falling back to
// the referer for anonymous traffic.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond operations with the given burst per
// principal.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Process implements Filter.
func (rl *RateLimiter) Process(op *operation.Operation, ctx *Context) Decision {
	key := op.Referer()
	if auth := op.AuthorizationContext(); auth != nil {
		key = auth.Subject()
	}
	if !rl.limiterFor(key).Allow() {
		op.Fail(operation.TooManyRequests("rate limit exceeded for %q", key))
		return Stop
	}
	return Continue
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}
