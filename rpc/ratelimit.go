package rpc

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Mutating methods are throttled per caller address before auth or dispatch.
// Read methods and the trade stream stay unthrottled.
const (
	mutationsPerSecond = 10
	mutationBurst      = 20
)

// visitorLimiter hands out one token bucket per caller address.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newVisitorLimiter(limit rate.Limit, burst int) *visitorLimiter {
	return &visitorLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (v *visitorLimiter) allow(r *http.Request) bool {
	return v.obtainLimiter(clientAddr(r)).Allow()
}

func (v *visitorLimiter) obtainLimiter(id string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	limiter, ok := v.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(v.limit, v.burst)
		v.visitors[id] = limiter
	}
	return limiter
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
