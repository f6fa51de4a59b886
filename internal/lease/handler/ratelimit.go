package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// CodeRateLimited is the error code of a request rejected by RateLimiter.
const CodeRateLimited = "rate_limited"

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client key.
type limiterSet struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*bucket
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*bucket)}
}

// take spends a token for key. When none is available it returns false and
// how long the client should wait; the token is not consumed.
func (s *limiterSet) take(key string, now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// sweep drops buckets idle since before cutoff.
func (s *limiterSet) sweep(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Idle entries are swept until ctx is done.
func RateLimiter(ctx context.Context, rps float64, burst int) gin.HandlerFunc {
	set := newLimiterSet(rps, burst)

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				set.sweep(now.Add(-limiterIdleTTL))
			}
		}
	}()

	return func(c *gin.Context) {
		ok, wait := set.take(c.ClientIP(), time.Now())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			abortWithCode(c, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
