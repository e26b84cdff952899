// Package storage persists downloaded image bytes.
package storage

import (
	"context"
	"io"
)

// Persister writes the full contents of r to path. Implementations must not
// leave a partially written file at path when they return an error.
type Persister interface {
	Persist(ctx context.Context, path string, r io.Reader) error
}

// Resolver is implemented by persisters that map a requested path to a
// different location, e.g. under a root directory. Resolve returns the path
// Persist writes to.
type Resolver interface {
	Resolve(path string) string
}

// Resolve returns the location p writes path to.
func Resolve(p Persister, path string) string {
	if r, ok := p.(Resolver); ok {
		return r.Resolve(path)
	}
	return path
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, path string, r io.Reader) error

func (f PersisterFunc) Persist(ctx context.Context, path string, r io.Reader) error {
	return f(ctx, path, r)
}
