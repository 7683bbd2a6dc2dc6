// rate_limiter.go - Per-client rate limiting of write routes
package server

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"zerosync/internal/api"
)

// ClientRateLimiter keeps one token bucket per client address.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewClientRateLimiter allows each client perSecond requests with the given burst.
func NewClientRateLimiter(perSecond float64, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow checks if a request from client is allowed and consumes a token if so
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Reset forgets the bucket of client.
func (l *ClientRateLimiter) Reset(client string) {
	l.mu.Lock()
	delete(l.limiters, client)
	l.mu.Unlock()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429.
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientAddr(r)) {
			w.Header().Set("Content-Type", MediaJSON)
			w.WriteHeader(http.StatusTooManyRequests)
			body, _ := Encode(MediaJSON, api.ErrorResponse{Kind: "rate_limited", Message: "too many requests"})
			_, _ = w.Write(body)
			return
		}
		next.ServeHTTP(w, r)
	})
}
