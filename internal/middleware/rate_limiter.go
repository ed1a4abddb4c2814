package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a token bucket per caller key. Buckets that have been full
// for a whole idle period are dropped so one-off callers do not accumulate.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	maxTokens    int
	refillRate   int           // tokens per refill
	refillPeriod time.Duration // how often to refill
	lastPrune    time.Time
	now          func() time.Time
}

// NewRateLimiter creates a limiter that holds up to maxTokens per caller and
// adds refillRate tokens every refillPeriod.
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	if refillRate <= 0 {
		refillRate = maxTokens
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Minute
	}
	return &RateLimiter{
		buckets:      make(map[string]*bucket),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// refill brings b up to date and returns it. Caller holds mu.
func (rl *RateLimiter) refill(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = b
		return b
	}
	if refills := int(now.Sub(b.lastRefill) / rl.refillPeriod); refills > 0 {
		b.tokens = min(rl.maxTokens, b.tokens+refills*rl.refillRate)
		b.lastRefill = b.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}
	return b
}

// prune drops idle buckets at most once per refill period. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	if now.Sub(rl.lastPrune) < rl.refillPeriod {
		return
	}
	rl.lastPrune = now
	fullAfter := rl.refillPeriod * time.Duration(int(math.Ceil(float64(rl.maxTokens)/float64(rl.refillRate))))
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) >= fullAfter+rl.refillPeriod {
			delete(rl.buckets, key)
		}
	}
}

// Allow takes a token for key. It returns the tokens left and, when no token
// was available, how long until the next refill.
func (rl *RateLimiter) Allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.prune(now)
	b := rl.refill(key, now)
	if b.tokens > 0 {
		b.tokens--
		return true, b.tokens, 0
	}
	return false, 0, b.lastRefill.Add(rl.refillPeriod).Sub(now)
}

// Len reports how many callers are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimitMiddleware limits requests per authenticated subject, falling back
// to the client IP for anonymous callers.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if subject, ok := GetSubject(c); ok {
			key = "sub:" + subject
		}

		allowed, remaining, wait := rl.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.maxTokens))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			RespondErrorWithRetry(c, http.StatusTooManyRequests, ErrCodeRateLimited,
				"Too many requests, please try again later", int(wait.Milliseconds()))
			c.Abort()
			return
		}

		c.Next()
	}
}
