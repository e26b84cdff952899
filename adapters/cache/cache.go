// Package cache holds the encoded-bytes caches that sit in front of the
// fetchers: bounded in-process LRU tiers and an optional shared Redis cache.
package cache

import "context"

// Store is a byte cache keyed by string. A miss is reported as ok == false
// with a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
}
