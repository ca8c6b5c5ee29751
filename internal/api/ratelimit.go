// ratelimit.go - Per-client rate limiting for the pool API
package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// tokenBucket refills one token every period up to capacity.
type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// ClientRateLimiter keeps a token bucket per client key. At most maxClients buckets are
// tracked; the least recently seen client is forgotten first and starts over with a full bucket.
type ClientRateLimiter struct {
	mu       sync.Mutex
	buckets  *lru.Cache[string, *tokenBucket]
	capacity int
	period   time.Duration
	now      func() time.Time
}

// NewClientRateLimiter allows perMinute requests per client with bursts up to burst.
func NewClientRateLimiter(perMinute, burst, maxClients int) (*ClientRateLimiter, error) {
	if perMinute <= 0 || burst <= 0 {
		return nil, errors.New("rate limit values must be positive")
	}
	buckets, err := lru.New[string, *tokenBucket](maxClients)
	if err != nil {
		return nil, errors.Wrap(err, "rate limiter buckets")
	}
	return &ClientRateLimiter{
		buckets:  buckets,
		capacity: burst,
		period:   time.Minute / time.Duration(perMinute),
		now:      time.Now,
	}, nil
}

// Allow consumes a token for client if one is available.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets.Get(client)
	if !ok {
		b = &tokenBucket{tokens: l.capacity, lastRefill: now}
		l.buckets.Add(client, b)
	}
	if refill := int(now.Sub(b.lastRefill) / l.period); refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(refill) * l.period)
	}
	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the tokens left for client.
func (l *ClientRateLimiter) Tokens(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets.Peek(client); ok {
		return b.tokens
	}
	return l.capacity
}

// Clients returns the number of tracked clients.
func (l *ClientRateLimiter) Clients() int {
	return l.buckets.Len()
}

// Middleware rejects requests over the limit with 429.
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Code: "rate_limited", Message: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
