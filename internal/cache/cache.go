// Package cache is a small valkey-backed TTL cache for proxied upstream
// reads. A nil *Cache is valid and caches nothing, so callers never need to
// branch on whether caching is configured.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	valkey "github.com/valkey-io/valkey-go"
)

const DefaultTTL = 60 * time.Second

type Cache struct {
	client valkey.Client
	ttl    time.Duration
	log    *slog.Logger
}

func New(addr string, ttl time.Duration, log *slog.Logger) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to valkey at %s", addr)
	}
	return &Cache{client: client, ttl: ttl, log: log}, nil
}

// Get returns the cached body for key, or ok=false on miss or error. Cache
// errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	body, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			c.log.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return body, true
}

// Set stores the body under key with the configured TTL; failures are logged
// and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, body []byte) {
	if c == nil {
		return
	}
	cmd := c.client.B().Set().Key(key).Value(string(body)).Ex(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) Close() {
	if c != nil {
		c.client.Close()
	}
}
