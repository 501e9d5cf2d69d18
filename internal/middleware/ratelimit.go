package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// staleAfter is how long an idle source keeps its token bucket before it is
// dropped on the next insert.
const staleAfter = 5 * time.Minute

// RateLimiter throttles requests per source IP using a token bucket per
// source. A nil limiter disables throttling.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter *rate.Limiter
	touched time.Time
}

// NewRateLimiter builds a limiter from a requests-per-minute budget. A budget
// of zero or less returns nil, which Handler treats as pass-through.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// Handler returns the gin middleware applying the limit.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(source string) bool {
	now := time.Now()

	r.mu.Lock()
	b, ok := r.buckets[source]
	if ok {
		b.touched = now
	} else {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst), touched: now}
		r.buckets[source] = b
		r.evictStale(now)
	}
	r.mu.Unlock()

	return b.limiter.Allow()
}

// evictStale runs under r.mu.
func (r *RateLimiter) evictStale(now time.Time) {
	for source, b := range r.buckets {
		if now.Sub(b.touched) > staleAfter {
			delete(r.buckets, source)
		}
	}
}
