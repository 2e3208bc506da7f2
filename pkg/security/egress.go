package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEgressQuotaExceeded is returned when a principal has exhausted its
// hourly egress budget (spec §4.5 layer 4).
var ErrEgressQuotaExceeded = errors.New("egress_quota_exceeded")

// EgressLimiter enforces the per-principal hourly egress quota. Redis is
// the primary path (INCR + EXPIRE on an hour-bucketed key, the same
// fixed-window counter idiom r3e-network-service_layer's go.mod pulls in
// redis/go-redis/v9 for); when no Redis endpoint is configured the limiter
// falls back to a DB-backed counter against egress_log so the gate still
// enforces quotas in a minimal deployment.
type EgressLimiter struct {
	redis    *redis.Client
	exec     PGExecutor
	hourlyMax int64
}

func NewEgressLimiter(redisClient *redis.Client, exec PGExecutor, hourlyMax int64) *EgressLimiter {
	return &EgressLimiter{redis: redisClient, exec: exec, hourlyMax: hourlyMax}
}

// Allow increments the principal's egress counter for the current hour
// bucket and reports whether the action is within quota. The increment is
// applied unconditionally (even when it pushes the count over the limit)
// so repeated denied attempts remain visible in the count.
func (l *EgressLimiter) Allow(ctx context.Context, principalID string, domain string) error {
	if l.redis != nil {
		return l.allowRedis(ctx, principalID)
	}
	return l.allowDB(ctx, principalID, domain)
}

func (l *EgressLimiter) allowRedis(ctx context.Context, principalID string) error {
	key := egressBucketKey(principalID, time.Now().UTC())
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("security: incr egress counter: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, time.Hour).Err(); err != nil {
			return fmt.Errorf("security: set egress counter ttl: %w", err)
		}
	}
	if count > l.hourlyMax {
		return ErrEgressQuotaExceeded
	}
	return nil
}

func (l *EgressLimiter) allowDB(ctx context.Context, principalID, domain string) error {
	windowStart := time.Now().UTC().Truncate(time.Hour)

	_, err := l.exec.Exec(ctx, `
		INSERT INTO egress_log (principal_id, domain, window_start, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (principal_id, window_start) DO UPDATE
		SET request_count = egress_log.request_count + 1`,
		principalID, domain, windowStart)
	if err != nil {
		return fmt.Errorf("security: record egress attempt: %w", err)
	}

	row := l.exec.QueryRow(ctx, `
		SELECT request_count FROM egress_log
		WHERE principal_id = $1 AND window_start = $2`,
		principalID, windowStart)

	var count int64
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("security: read egress count: %w", err)
	}
	if count > l.hourlyMax {
		return ErrEgressQuotaExceeded
	}
	return nil
}

func egressBucketKey(principalID string, now time.Time) string {
	return fmt.Sprintf("egress:%s:%s", principalID, now.Format("2006010215"))
}
