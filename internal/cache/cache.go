// Package cache defines the key-value cache used for derived display values.
package cache

import (
	"context"
	"fmt"
	"time"
)

// LatestMagTTL is how long a cached latest magnitude stays valid.
const LatestMagTTL = 30 * 24 * time.Hour

// Cache is a key-value store with per-key expiry. Values are JSON encoded.
// Writes are last-writer-wins and may fail; callers decide whether that matters.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get decodes the value stored under key into dst. ok is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string, dst any) (ok bool, err error)
}

// LatestMagKey is the cache key for a target's latest magnitude.
func LatestMagKey(targetID int64) string {
	return fmt.Sprintf("latest_mag_%d", targetID)
}
