package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitWindow    = 60 * time.Second
)

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, resetAt}
`)

// RedisRateLimiter is a sliding-window limiter keyed on an arbitrary
// string: an external user ID for HTTP-facing limits, or a call-class
// name ("llm", "vector", "calendar") for the external-call budgets
// applied around the LLM, vector-index and calendar clients.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (rl *RedisRateLimiter) Check(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now().Unix()
	redisKey := rateLimitKeyPrefix + key

	result, err := rateLimitScript.Run(ctx, rl.client, []string{redisKey}, now, int64(rateLimitWindow.Seconds()), limit).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	if len(result) != 3 {
		log.Warn().Str("key", key).Msg("unexpected redis rate limit result")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	return result[0] == 1, int(result[1]), result[2]
}

// RedisRateLimitMiddleware rate-limits the web-chat HTTP surface per
// authenticated external user.
type RedisRateLimitMiddleware struct {
	limiter     *RedisRateLimiter
	limitPerMin int
}

func NewRedisRateLimitMiddleware(redisClient *redis.Client, limitPerMin int) *RedisRateLimitMiddleware {
	return &RedisRateLimitMiddleware{
		limiter:     NewRedisRateLimiter(redisClient),
		limitPerMin: limitPerMin,
	}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalUserID := GetExternalUserID(r.Context())
		if externalUserID == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), "surface:"+externalUserID, m.limitPerMin)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limitPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			log.Warn().Str("externalUserId", externalUserID).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ExternalCallLimiter budgets calls the orchestrator makes to external
// dependencies (LLM, vector index, calendar provider; the workspace
// adapter is not budgeted), independent of any inbound HTTP request, so a single noisy
// session cannot exhaust a shared downstream quota.
type ExternalCallLimiter struct {
	limiter *RedisRateLimiter
	budgets map[string]int
}

func NewExternalCallLimiter(redisClient *redis.Client, budgets map[string]int) *ExternalCallLimiter {
	return &ExternalCallLimiter{
		limiter: NewRedisRateLimiter(redisClient),
		budgets: budgets,
	}
}

// Allow reports whether a call of the given class is within budget for
// the current window. An unconfigured class is always allowed.
func (l *ExternalCallLimiter) Allow(ctx context.Context, class string) bool {
	limit, ok := l.budgets[class]
	if !ok || limit <= 0 {
		return true
	}
	allowed, _, _ := l.limiter.Check(ctx, "class:"+class, limit)
	return allowed
}
