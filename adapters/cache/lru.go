package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a bounded in-process Store. Values are copied on the way in and out
// so callers may reuse their slices.
type LRU struct {
	c *lru.Cache[string, []byte]
}

// NewLRU returns an LRU holding at most size entries.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (l *LRU) Set(_ context.Context, key string, data []byte) error {
	l.c.Add(key, clone(data))
	return nil
}

// Len returns the number of cached entries.
func (l *LRU) Len() int { return l.c.Len() }

// Purge drops every entry.
func (l *LRU) Purge() { l.c.Purge() }

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
