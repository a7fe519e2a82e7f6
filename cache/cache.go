// Package cache defines the key/value store consumed by the session and
// rate-limit layers, with redis and in-memory implementations.
package cache

import (
	"context"
	"time"
)

// Store is a minimal get/set-with-TTL string store. A missing key is not an
// error; Get reports it through the found flag. Implementations must be safe
// for concurrent use by multiple request handlers.
type Store interface {
	// Get returns the value stored under key, and whether the key existed.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}
