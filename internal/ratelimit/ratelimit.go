// Package ratelimit is the quota/rate-limit service spec.md's Design Notes
// §9 calls peripheral and permits layering on top of C6 without touching
// core invariants. It sits at the /app/market/subscribe entry point
// (internal/session). The default, always-on path is an in-process
// token bucket per session, grounded on the pack's
// Aidin1998-finalex/internal/trading/middleware/rate_limiter.go. An optional
// Redis-backed counter (grounded on the teacher's
// cmd/gateway/internal/repository/redis.go pipeline idiom) lets operators
// share quota across more than one instance of this service; it is never
// required, and the core tick/index/dispatch subsystems never depend on it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter is the quota seam internal/session calls before acting on a
// subscribe-action message.
type Limiter interface {
	Allow(ctx context.Context, sessionID string) bool
}

// InProcess is a per-session token bucket. It is the default Limiter and
// requires no external dependency.
type InProcess struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewInProcess builds an InProcess limiter allowing requestsPerSecond
// sustained, burst at once, per session.
func NewInProcess(requestsPerSecond float64, burst int) *InProcess {
	return &InProcess{
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether sessionID may act now, consuming one token if so.
func (l *InProcess) Allow(ctx context.Context, sessionID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[sessionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget drops a session's bucket, called on disconnect so the map does not
// grow without bound across the process lifetime.
func (l *InProcess) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.limiters, sessionID)
	l.mu.Unlock()
}

// Redis is a fixed-window counter shared across instances, via INCR +
// EXPIRE batched in one pipeline on a per-session-per-window key. Opt-in
// only (ratelimit.redis_addr, SPEC_FULL §6).
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewRedis builds a Redis-backed Limiter: limit requests per window, shared
// across every process pointed at addr.
func NewRedis(addr string, limit int, window time.Duration, logger *zap.Logger) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow increments sessionID's counter for the current window and reports
// whether it is still within limit. A Redis error fails open (allows the
// request) rather than blocking the subscribe path on an unrelated outage.
func (l *Redis) Allow(ctx context.Context, sessionID string) bool {
	key := fmt.Sprintf("ratelimit:%s:%d", sessionID, time.Now().Unix()/int64(l.window.Seconds()))

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("ratelimit: redis pipeline failed, failing open", zap.Error(err))
		return true
	}
	return incr.Val() <= int64(l.limit)
}

// Close releases the underlying Redis client.
func (l *Redis) Close() error {
	return l.client.Close()
}
