package security

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimiter is a per-key token bucket limiter with idle-bucket cleanup.
type RateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsPerMinute
	}

	rl := &RateLimiter{
		config:      config,
		logger:      logger,
		buckets:     make(map[string]*tokenBucket),
		stopCleanup: make(chan struct{}),
	}
	rl.startCleanup()
	return rl
}

// Allow admits or rejects one request under the key's bucket.
func (rl *RateLimiter) Allow(key string) *RateLimitResult {
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: rl.config.RequestsPerMinute,
			ResetTime: time.Now().Add(rl.config.WindowDuration),
		}
	}

	now := time.Now()
	bucket := rl.getOrCreateBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	elapsed := now.Sub(bucket.lastRefill)
	if elapsed > 0 {
		refill := int(elapsed.Minutes() * float64(rl.config.RequestsPerMinute))
		if bucket.tokens+refill > rl.config.BurstSize {
			bucket.tokens = rl.config.BurstSize
		} else {
			bucket.tokens += refill
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return &RateLimitResult{
			Allowed:   true,
			Remaining: bucket.tokens,
			ResetTime: now.Add(rl.config.WindowDuration),
		}
	}

	retryAfter := time.Duration(float64(time.Minute) / float64(rl.config.RequestsPerMinute))
	rl.logger.WithFields(logrus.Fields{
		"key":         MaskKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

// Reset clears the bucket for a key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	delete(rl.buckets, key)
	rl.mu.Unlock()
}

func (rl *RateLimiter) getOrCreateBucket(key string) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{
			tokens:     rl.config.BurstSize,
			lastRefill: time.Now(),
		}
		rl.buckets[key] = bucket
	}
	return bucket
}

func (rl *RateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)
	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup drops buckets idle for two windows.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)
	removed := 0
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
		bucket.mu.Unlock()
	}
	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop halts the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

// Middleware applies the limiter keyed by authenticated user or client IP.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			result := rl.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":{"message":"Rate limit exceeded","type":"rate_limit_error","code":429,"retry_after":%d},"timestamp":%d}`,
					int(result.RetryAfter.Seconds()), time.Now().Unix())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if info, ok := GetAuthInfo(r.Context()); ok {
		return "user:" + info.UserID
	}
	return "ip:" + ClientIP(r)
}
