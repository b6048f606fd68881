package signal

import (
	"sync"

	"github.com/dkeye/chatcall/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimiter throttles inbound frames per identity with a token bucket.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.Identity]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond frames on average with bursts of burst.
// perSecond <= 0 disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[domain.Identity]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *RateLimiter) Allow(id domain.Identity) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.limiters[id]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[id] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// Forget drops the bucket of id once it has no live connection.
func (rl *RateLimiter) Forget(id domain.Identity) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.limiters, id)
	rl.mu.Unlock()
}
