// Package redisclaim implements dedup.Claimer with Redis SET NX.
package redisclaim

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a claim blocks a duplicate after the winner
// created its issue, long enough for the tracker search index to catch up.
// It stays below the NATS redelivery span so a claim left by a dead worker
// expires before the message runs out of deliveries.
const DefaultTTL = 5 * time.Minute

// Claimer holds identity claims in Redis.
type Claimer struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New returns a Claimer. A non-positive ttl uses DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration) *Claimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claimer{rdb: rdb, ttl: ttl}
}

// Key returns the Redis key for a tenant's identity label.
func Key(tenantID, label string) string {
	return "warden:claim:" + tenantID + ":" + label
}

// Claim implements dedup.Claimer.
func (c *Claimer) Claim(ctx context.Context, tenantID, label string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, Key(tenantID, label), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release implements dedup.Claimer.
func (c *Claimer) Release(ctx context.Context, tenantID, label string) error {
	if err := c.rdb.Del(ctx, Key(tenantID, label)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
