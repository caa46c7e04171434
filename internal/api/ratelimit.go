package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// cleanupIdleDuration bounds how long a stale key's bucket is kept
// before the limiter's background sweep reclaims it.
const cleanupIdleDuration = 30 * time.Minute

type bucket struct {
	tokens   float64
	lastSeen time.Time
	mu       sync.Mutex
}

// KeyedRateLimiter is a token-bucket limiter keyed by an arbitrary
// string (spec.md §5's per-user, per-operation limits: start_session
// 1/min, claim 1/10s, card activation 10/5min, referral-apply 5/h),
// generalized from the teacher's per-IP-only limiter.
type KeyedRateLimiter struct {
	rate    float64 // tokens added per second
	burst   float64
	label   string
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewKeyedRateLimiter builds a limiter allowing burst requests
// immediately and refilling at one token per `window`/count duration.
// label is surfaced in the 429 body for operator debuggability.
func NewKeyedRateLimiter(count int, window time.Duration, burst int, label string) *KeyedRateLimiter {
	rl := &KeyedRateLimiter{
		rate:    float64(count) / window.Seconds(),
		burst:   float64(burst),
		label:   label,
		buckets: make(map[string]*bucket),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *KeyedRateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, lastSeen: time.Now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastSeen = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}
	retryAfter := time.Duration((1.0-b.tokens)/rl.rate*1000) * time.Millisecond
	return false, retryAfter
}

// Middleware enforces the limit per key returned by keyFn (typically the
// path's user_id param). Requests whose keyFn returns "" bypass limiting.
func (rl *KeyedRateLimiter) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}
		allowed, retryAfter := rl.allow(key)
		if !allowed {
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"limit":      rl.label,
				"retryAfter": retryAfter.String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *KeyedRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// userIDKey extracts the :user_id path param as the rate-limit key.
func userIDKey(c *gin.Context) string {
	return c.Param("user_id")
}
