package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/baharkarakas/point-ledger/internal/api/httpx"
)

type client struct {
	lim  *rate.Limiter
	last time.Time
}

// limiter keeps one token bucket per client address.
type limiter struct {
	mu      sync.Mutex
	rps     int
	clients map[string]*client
	now     func() time.Time
}

func newLimiter(rps int, now func() time.Time) *limiter {
	return &limiter{
		rps:     rps,
		clients: make(map[string]*client),
		now:     now,
	}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxClients {
			l.prune(now)
		}
		c = &client{lim: rate.NewLimiter(rate.Limit(l.rps), l.rps)}
		l.clients[key] = c
	}
	c.last = now
	return c.lim.AllowN(now, 1)
}

const maxClients = 10000

// prune drops clients idle long enough for their bucket to be full again.
func (l *limiter) prune(now time.Time) {
	idle := 2 * time.Second
	for k, c := range l.clients {
		if now.Sub(c.last) > idle {
			delete(l.clients, k)
		}
	}
}

// RateLimit allows rps requests per second per client IP with a burst of rps.
// A non-positive rps disables limiting.
func RateLimit(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(rps, time.Now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
