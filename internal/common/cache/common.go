package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"
)

// missingMarker is stored for keys whose row does not exist.
const missingMarker = "$NULL$"

// TTL holds expirations for cached rows and for remembered misses.
type TTL struct {
	Hit  time.Duration
	Miss time.Duration
}

// GetJSON reads a JSON-encoded *T through the cache. On a miss load is
// called; a nil result is remembered for ttl.Miss and returned as nil, so
// repeated lookups of a missing row stay off the database. Entries that no
// longer decode are reloaded. Both expirations are jittered.
func GetJSON[T any](ctx context.Context, c Cache, key string, ttl TTL, load func(context.Context) (*T, error)) (*T, error) {
	if c == nil {
		return load(ctx)
	}
	if cached, err := c.Get(ctx, key); err == nil && cached != "" {
		if cached == missingMarker {
			return nil, nil
		}
		var value T
		if err := json.Unmarshal([]byte(cached), &value); err == nil {
			return &value, nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		_ = c.Set(ctx, key, missingMarker, JitterTTL(ttl.Miss))
		return nil, nil
	}
	if data, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, key, string(data), JitterTTL(ttl.Hit))
	}
	return value, nil
}

// InvalidateAfter runs a write and then drops the cached entry so the
// next read goes back to the source.
func InvalidateAfter(ctx context.Context, c Cache, key string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	if c != nil {
		_ = c.Del(ctx, key)
	}
	return nil
}

// JitterTTL shortens ttl by up to 10%.
func JitterTTL(ttl time.Duration) time.Duration {
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
