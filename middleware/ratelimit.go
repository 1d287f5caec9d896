package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// KeyedLimiter holds one token bucket per key (client IP, character ID).
// Entries idle for longer than the TTL are swept by Sweep.
type KeyedLimiter struct {
	r       rate.Limit
	b       int
	entries sync.Map
}

// NewKeyedLimiter creates a limiter allowing r events per second with burst b per key.
func NewKeyedLimiter(r rate.Limit, b int) *KeyedLimiter {
	return &KeyedLimiter{r: r, b: b}
}

// Allow reports whether an event for key may happen now.
func (k *KeyedLimiter) Allow(key any) bool {
	v, _ := k.entries.LoadOrStore(key, &keyedEntry{limiter: rate.NewLimiter(k.r, k.b)})
	e := v.(*keyedEntry)
	e.lastSeen.Store(time.Now().UnixNano())
	return e.limiter.Allow()
}

// Forget drops the bucket for key.
func (k *KeyedLimiter) Forget(key any) { k.entries.Delete(key) }

// Sweep removes entries not seen since cutoff and returns how many were removed.
func (k *KeyedLimiter) Sweep(cutoff time.Time) int {
	n := 0
	c := cutoff.UnixNano()
	k.entries.Range(func(key, v any) bool {
		if v.(*keyedEntry).lastSeen.Load() < c {
			k.entries.Delete(key)
			n++
		}
		return true
	})
	return n
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	limiters := NewKeyedLimiter(r, b)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiters.Sweep(time.Now().Add(-10 * time.Minute))
		}
	}()

	return func(c *gin.Context) {
		if !limiters.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
