// Package cache stores computed portfolio signals in Redis keyed by
// intervention id and version, so any write to an intervention retires its
// cached entry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alma/internal/portfolio"
	"alma/pkg/domain"
)

const keyPrefix = "alma:signals:"

// DefaultTTL applies when NewRedis is given a non-positive ttl.
const DefaultTTL = 10 * time.Minute

// Redis is a go-redis backed signal cache.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func key(id domain.InterventionID, version int64) string {
	return fmt.Sprintf("%s%s:v%d", keyPrefix, id, version)
}

// Get returns the cached signals for (id, version). A miss is (nil, nil).
func (c *Redis) Get(ctx context.Context, id domain.InterventionID, version int64) (*portfolio.Signals, error) {
	raw, err := c.client.Get(ctx, key(id, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached signals: %w", err)
	}
	var s portfolio.Signals
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt entry is a miss; the caller overwrites it.
		return nil, nil
	}
	return &s, nil
}

// Set stores s under its own intervention id and version.
func (c *Redis) Set(ctx context.Context, s portfolio.Signals) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	if err := c.client.Set(ctx, key(s.InterventionID, s.Version), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached signals: %w", err)
	}
	return nil
}
