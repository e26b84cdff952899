// Package ref provides reference-counted handles over pooled resources.
//
// A Ref owns one count on a shared value. Clone takes another count, Close
// gives one back, and the releaser runs exactly once when the last count is
// returned. Every Ref must be closed by whoever obtained it.
package ref

import (
	"sync"
	"sync/atomic"

	apperrors "github.com/Skryldev/imageloader/errors"
)

// Releaser returns a value to its pool once no references remain.
type Releaser[T any] func(T)

type shared[T any] struct {
	value   T
	count   atomic.Int32
	release Releaser[T]
}

func (s *shared[T]) decref() {
	if s.count.Add(-1) == 0 && s.release != nil {
		s.release(s.value)
	}
}

// Ref is a single counted reference to a shared value.
type Ref[T any] struct {
	mu     sync.Mutex
	s      *shared[T]
	closed bool
}

// New wraps v in a reference with a count of one. release may be nil.
func New[T any](v T, release Releaser[T]) *Ref[T] {
	s := &shared[T]{value: v, release: release}
	s.count.Store(1)
	return &Ref[T]{s: s}
}

// Get returns the underlying value. It is only meaningful while the
// reference is valid.
func (r *Ref[T]) Get() T {
	return r.s.value
}

// IsValid reports whether this reference has not been closed.
func (r *Ref[T]) IsValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Clone returns a new reference to the same value. Cloning a closed
// reference fails with ErrReleased.
func (r *Ref[T]) Clone() (*Ref[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperrors.ErrReleased
	}
	r.s.count.Add(1)
	return &Ref[T]{s: r.s}, nil
}

// Close gives back this reference's count. It is safe to call more than once.
func (r *Ref[T]) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.s.decref()
	return nil
}

// Count reports how many open references share the value.
func (r *Ref[T]) Count() int {
	return int(r.s.count.Load())
}

// CloneOrNil clones r, returning nil when r is nil or already closed.
func CloneOrNil[T any](r *Ref[T]) *Ref[T] {
	if r == nil {
		return nil
	}
	c, err := r.Clone()
	if err != nil {
		return nil
	}
	return c
}
