package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	// Limit is the sustained rate in requests per second.
	Limit rate.Limit

	// Burst is the token bucket capacity.
	Burst int

	// KeyFunc selects the bucket. Nil means one global bucket.
	KeyFunc KeyFunc

	// Redis enables a token bucket shared by every instance. Nil keeps the
	// buckets in process memory.
	Redis redis.UniversalClient

	// RedisKeyPrefix prefixes bucket keys (default: "ratelimit:").
	RedisKeyPrefix string
}

// DefaultRateLimitConfig returns a default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:          100,
		Burst:          200,
		RedisKeyPrefix: "ratelimit:",
	}
}

// RateLimit returns token bucket rate limiting middleware. Rejected requests
// get 429 with a Retry-After header.
//
//	server := httpserver.New(
//	    httpserver.WithRateLimit(httpserver.RateLimitConfig{
//	        Limit:   50,
//	        Burst:   100,
//	        KeyFunc: httpserver.KeyFuncByIP(),
//	    }),
//	    httpserver.WithHandler(mux),
//	)
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = "ratelimit:"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(*http.Request) string { return "global" }
	}

	var allow func(r *http.Request) bool
	if cfg.Redis != nil {
		allow = redisAllower(cfg)
	} else {
		allow = memoryAllower(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded",
					Error{Field: "rate_limit", Message: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns in-memory rate limiting keyed by client IP.
func RateLimitByIP(limit rate.Limit, burst int) Middleware {
	return RateLimit(RateLimitConfig{
		Limit:   limit,
		Burst:   burst,
		KeyFunc: KeyFuncByIP(),
	})
}

// RateLimitByIPRedis returns Redis-backed rate limiting keyed by client IP.
func RateLimitByIPRedis(rdb redis.UniversalClient, limit rate.Limit, burst int) Middleware {
	return RateLimit(RateLimitConfig{
		Limit:   limit,
		Burst:   burst,
		Redis:   rdb,
		KeyFunc: KeyFuncByIP(),
	})
}

func memoryAllower(cfg RateLimitConfig) func(r *http.Request) bool {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(r *http.Request) bool {
		key := cfg.KeyFunc(r)

		mu.Lock()
		limiter, ok := limiters[key]
		if !ok {
			limiter = rate.NewLimiter(cfg.Limit, cfg.Burst)
			limiters[key] = limiter
		}
		mu.Unlock()

		return limiter.Allow()
	}
}

// tokenBucketScript refills the bucket for the elapsed time, caps it at
// burst, and takes one token if available. State is a hash of
// {tokens, last_update}; idle buckets expire after ttl seconds.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])

if tokens == nil then
    tokens = burst
    last_update = now
end

local elapsed_ms = math.max(0, now - last_update)
tokens = math.min(burst, tokens + (elapsed_ms / 1000.0) * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
redis.call('EXPIRE', key, ttl)
return allowed
`)

const redisBucketTTL = 60 // seconds

func redisAllower(cfg RateLimitConfig) func(r *http.Request) bool {
	rps := float64(cfg.Limit)

	return func(r *http.Request) bool {
		key := cfg.RedisKeyPrefix + cfg.KeyFunc(r)
		allowed, err := tokenBucketScript.Run(
			context.WithoutCancel(r.Context()),
			cfg.Redis,
			[]string{key},
			rps, cfg.Burst, time.Now().UnixMilli(), redisBucketTTL,
		).Int()
		if err != nil {
			// Fail open on Redis errors.
			log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
			return true
		}
		return allowed == 1
	}
}
