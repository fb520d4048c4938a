package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer reserves one occurrence of a workflow so that only one of several
// dispatchers fires it.
type Claimer interface {
	Claim(ctx context.Context, workflowID string, at time.Time) (bool, error)
}

// RedisClaimer claims occurrences with SET NX on a per-minute key.
type RedisClaimer struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisClaimer creates a claimer. Keys expire after ttl, which should
// outlive the minute being claimed.
func NewRedisClaimer(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = "autoflow:dispatch:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisClaimer{client: client, prefix: prefix, ttl: ttl}
}

// Claim returns true if this caller won the occurrence of workflowID at the
// minute containing at.
func (c *RedisClaimer) Claim(ctx context.Context, workflowID string, at time.Time) (bool, error) {
	key := c.prefix + workflowID + ":" + at.UTC().Format("200601021504")
	ok, err := c.client.SetNX(ctx, key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}
