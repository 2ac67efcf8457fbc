package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ledger-core/pkg/xerrors"
)

// redisStore is the slice of the go-redis client the guard needs. Satisfied by
// *redis.Client.
type redisStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// IdempotencyGuard deduplicates retried requests by (owner, client key) using
// an atomic SetNX reservation shared by every service instance.
//
// Strict guards fail CLOSED: if Redis is unreachable the reservation errors
// and the caller must reject, because a duplicate money movement is worse than
// a rejected request. Non-strict guards fail OPEN for callers where a
// duplicate side effect is tolerable.
type IdempotencyGuard struct {
	client redisStore
	strict bool
}

func NewIdempotencyGuard(client redisStore, strict bool) *IdempotencyGuard {
	return &IdempotencyGuard{client: client, strict: strict}
}

func idemKey(ownerID, key string) string {
	return fmt.Sprintf("idem:%s:%s", ownerID, key)
}

// Reserve atomically claims (ownerID, key) for ttl. Returns true when this
// caller made the reservation, false when an unexpired one already exists.
func (g *IdempotencyGuard) Reserve(ctx context.Context, ownerID, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, idemKey(ownerID, key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		if g.strict {
			return false, fmt.Errorf("%w: %v", xerrors.ErrIdempotencyUnavailable, err)
		}
		return true, nil
	}
	return ok, nil
}

// Release drops a reservation so a legitimate retry can succeed after the
// guarded operation failed before any durable effect.
func (g *IdempotencyGuard) Release(ctx context.Context, ownerID, key string) error {
	if err := g.client.Del(ctx, idemKey(ownerID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Exists reports whether an unexpired reservation is present.
func (g *IdempotencyGuard) Exists(ctx context.Context, ownerID, key string) (bool, error) {
	n, err := g.client.Exists(ctx, idemKey(ownerID, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return n > 0, nil
}

// TTLRemaining returns how long the reservation has left, zero when absent.
func (g *IdempotencyGuard) TTLRemaining(ctx context.Context, ownerID, key string) (time.Duration, error) {
	d, err := g.client.TTL(ctx, idemKey(ownerID, key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read idempotency TTL: %w", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Extend pushes the reservation expiry out to ttl from now.
func (g *IdempotencyGuard) Extend(ctx context.Context, ownerID, key string, ttl time.Duration) error {
	ok, err := g.client.Expire(ctx, idemKey(ownerID, key), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to extend idempotency key: %w", err)
	}
	if !ok {
		return xerrors.ErrNotFound
	}
	return nil
}
