package http

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// defaultLimiterIdle is how long a client's bucket survives without requests.
const defaultLimiterIdle = 10 * time.Minute

// IPRateLimiter keeps one token bucket per client address. Buckets of
// clients that stay quiet for the idle period are evicted.
type IPRateLimiter struct {
	ips *cache.Cache
	r   rate.Limit
	b   int
}

// NewIPRateLimiter returns a limiter allowing r requests per second with
// burst b for every client address. A non-positive idle uses ten minutes.
func NewIPRateLimiter(r rate.Limit, b int, idle time.Duration) *IPRateLimiter {
	if idle <= 0 {
		idle = defaultLimiterIdle
	}
	return &IPRateLimiter{
		ips: cache.New(idle, 2*idle),
		r:   r,
		b:   b,
	}
}

// Limiter returns the bucket for ip, creating it on first use. Every call
// restarts the idle period.
func (i *IPRateLimiter) Limiter(ip string) *rate.Limiter {
	if cached, ok := i.ips.Get(ip); ok {
		limiter := cached.(*rate.Limiter)
		i.ips.SetDefault(ip, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(i.r, i.b)
	if err := i.ips.Add(ip, limiter, cache.DefaultExpiration); err != nil {
		// Lost the race with a concurrent first request.
		if cached, ok := i.ips.Get(ip); ok {
			return cached.(*rate.Limiter)
		}
	}
	return limiter
}

// RateLimit rejects requests beyond perSecond (with burst) per client address
// with 429. A non-positive perSecond disables limiting.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := NewIPRateLimiter(rate.Limit(perSecond), burst, defaultLimiterIdle)
	responder := newResponder(nil)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Limiter(clientIP(r)).Allow() {
				responder.writeJSON(r.Context(), w, http.StatusTooManyRequests, errorResponse{
					ErrorCode: "RATE_LIMITED",
					Message:   errTooManyRequests.Error(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
