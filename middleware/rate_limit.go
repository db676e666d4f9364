package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// triggerWindow tracks scan triggers from one IP
type triggerWindow struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter is a fixed-window counter per client IP
type RateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*triggerWindow
	maxRequests  int
	windowPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
// maxRequests: requests allowed per IP within the window
// windowPeriod: length of the counting window
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &RateLimiter{
		windows:      make(map[string]*triggerWindow),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
		now:          time.Now,
	}
}

// StartCleanup drops expired windows until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, w := range rl.windows {
		if now.Sub(w.FirstAt) > rl.windowPeriod {
			delete(rl.windows, ip)
		}
	}
}

// Allow records one request for ip. It returns whether the request may
// proceed, how many remain in the window and, when refused, how long until
// the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.windows[ip]
	if !exists || now.Sub(w.FirstAt) > rl.windowPeriod {
		rl.windows[ip] = &triggerWindow{Count: 1, FirstAt: now}
		return true, rl.maxRequests - 1, 0
	}

	if w.Count >= rl.maxRequests {
		return false, 0, rl.windowPeriod - now.Sub(w.FirstAt)
	}

	w.Count++
	return true, rl.maxRequests - w.Count, 0
}

// RateLimitMiddleware throttles requests per client IP
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.Allow(c.ClientIP())
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     formatRateLimitError(seconds),
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

func formatRateLimitError(seconds int) string {
	if seconds >= 60 {
		return fmt.Sprintf("Too many scan requests. Please try again in %d minute(s) and %d second(s).", seconds/60, seconds%60)
	}
	return fmt.Sprintf("Too many scan requests. Please try again in %d second(s).", seconds)
}
