// ratelimit.go throttles clients per user or IP and answers 429 with Retry-After once a
// bucket is empty. Buckets live in process memory or, for several replicas, in Redis.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the limits for authenticated inventory routes
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50, // a box page loads several resources at once
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for the account endpoints
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns limits for item image uploads
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// PublicRateLimitConfig returns limits for the unauthenticated QR lookup
func PublicRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
	Stop()
}

// NewLimiter returns a Redis-backed limiter when rdb is set, otherwise an in-process one.
// name separates the buckets of different route groups in Redis.
func NewLimiter(name string, cfg RateLimitConfig, rdb *redis.Client) Limiter {
	if rdb != nil {
		return NewRedisRateLimiter(rdb, name, cfg)
	}
	return NewRateLimiter(cfg)
}

// idleTTL is how long an untouched bucket is kept before cleanup drops it.
const idleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one x/time/rate token bucket per client key in memory.
type RateLimiter struct {
	config  RateLimitConfig
	every   rate.Limit
	burst   int
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter starts an in-process limiter and its cleanup loop. Call Stop to end the loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		every:   rate.Limit(float64(config.RequestsPerMinute) / 60),
		burst:   max(config.BurstSize, 1),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) evictLoop() {
	t := time.NewTicker(rl.config.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-t.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-idleTTL)
			rl.mu.Unlock()
			rl.evictIdle(cutoff)
		}
	}
}

func (rl *RateLimiter) evictIdle(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// bucketFor returns the limiter for key, creating a full one on first use. Caller holds mu.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b
}

// Allow consumes one token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	d, _ := rl.Take(context.Background(), key)
	return d.Allowed
}

// RemainingTokens returns the whole tokens left for key without consuming any.
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		return rl.burst
	}
	return int(b.lim.TokensAt(rl.now()))
}

// Take implements Limiter.
func (rl *RateLimiter) Take(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	lim := rl.bucketFor(key, now).lim
	d := Decision{Limit: rl.config.RequestsPerMinute, Allowed: lim.AllowN(now, 1)}
	tokens := lim.TokensAt(now)
	d.Remaining = int(tokens)
	if !d.Allowed {
		if rl.every > 0 {
			d.RetryAfter = time.Duration((1 - tokens) / float64(rl.every) * float64(time.Second))
		} else {
			d.RetryAfter = time.Minute
		}
	}
	return d, nil
}

// RedisRateLimiter shares limits between replicas using the GCRA implementation of
// redis_rate.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
	rpm     int
}

// NewRedisRateLimiter creates a limiter storing its state in rdb under "ratelimit:<name>:".
func NewRedisRateLimiter(rdb *redis.Client, name string, cfg RateLimitConfig) *RedisRateLimiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  burst,
			Period: time.Minute,
		},
		prefix: "ratelimit:" + name + ":",
		rpm:    cfg.RequestsPerMinute,
	}
}

// Take implements Limiter.
func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      l.rpm,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Stop is a no-op; the Redis client is closed by its owner.
func (l *RedisRateLimiter) Stop() {}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. A nil limiter
// disables rate limiting. If the limiter itself fails the request is let through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := getRateLimitKey(c)
		d, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))

		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if id := CurrentUserID(c); id != "" {
		return "user:" + id
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
