package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"backtester/internal/metrics"
)

// Counter increments a per-key counter that expires period after its first
// increment.
type Counter interface {
	Incr(ctx context.Context, key string, period time.Duration) (int64, error)
}

// RedisCounter implements Counter with INCR and EXPIRE.
type RedisCounter struct {
	client redis.Cmdable
}

// Compile-time interface check.
var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter creates a RedisCounter on client.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments key and starts its expiry on the first hit.
func (rc *RedisCounter) Incr(ctx context.Context, key string, period time.Duration) (int64, error) {
	n, err := rc.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 {
		if err := rc.client.Expire(ctx, key, period).Err(); err != nil {
			return n, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}
	return n, nil
}

// RateLimiter allows each client at most MaxRequests backtests per Period.
// Counter failures let the request through.
type RateLimiter struct {
	counter     Counter
	maxRequests int64
	period      time.Duration
	prefix      string
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// NewRateLimiter creates a RateLimiter backed by counter.
func NewRateLimiter(counter Counter, maxRequests int, period time.Duration, m *metrics.Metrics, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		counter:     counter,
		maxRequests: int64(maxRequests),
		period:      period,
		prefix:      "backtester:ratelimit:",
		metrics:     m,
		log:         log.With("component", "ratelimit"),
	}
}

// Allow reports whether client may make another request, and how many
// requests it has left in the current period.
func (rl *RateLimiter) Allow(ctx context.Context, client string) (bool, int64) {
	n, err := rl.counter.Incr(ctx, rl.prefix+client, rl.period)
	if err != nil {
		rl.log.Warn("rate limit check failed", "client", client, "error", err)
		return true, rl.maxRequests
	}
	if n > rl.maxRequests {
		rl.metrics.RecordRateLimited()
		rl.log.Info("rate limited", "client", client, "count", n)
		return false, 0
	}
	return true, rl.maxRequests - n
}

func (s *Server) limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		ok, remaining := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.FormatInt(s.limiter.maxRequests, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(s.limiter.period.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// limitUnary applies the rate limit to RunBacktest calls keyed by peer host.
func (s *Server) limitUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if s.limiter == nil || info.FullMethod != runBacktestMethod {
			return handler(ctx, req)
		}
		client := "unknown"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			client = p.Addr.String()
			if host, _, err := net.SplitHostPort(client); err == nil {
				client = host
			}
		}
		if ok, _ := s.limiter.Allow(ctx, client); !ok {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
