package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

// clientLimiter applies a per-client token bucket, keyed by originating IP.
// Buckets live in an LRU so a scan of distinct addresses cannot grow memory
// without bound.
type clientLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache
	limit   rate.Limit
	burst   int
}

func newClientLimiter(perSecond float64, burst, maxClients int) *clientLimiter {
	clients, _ := lru.New(maxClients)
	return &clientLimiter{
		clients: clients,
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.clients.Get(key); ok {
		return cached.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.clients.Add(key, limiter)
	return limiter.Allow()
}

// clientKey extracts the caller identity for rate limiting, trusting the
// leftmost forwarded address when the proxy sets one.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
