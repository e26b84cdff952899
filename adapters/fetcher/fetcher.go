// Package fetcher loads the encoded bytes behind a request source.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/request"
)

// Payload is the raw result of a fetch.
type Payload struct {
	Data []byte
	// ContentType is the type reported by the source, if any.
	ContentType string
}

// Fetcher loads the bytes of one source.
type Fetcher interface {
	Fetch(ctx context.Context, src request.Source) (*Payload, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, src request.Source) (*Payload, error)

func (f Func) Fetch(ctx context.Context, src request.Source) (*Payload, error) { return f(ctx, src) }

// Router dispatches each source to the fetcher registered for its kind.
type Router struct {
	byKind map[request.Kind]Fetcher
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{byKind: make(map[request.Kind]Fetcher)}
}

// Register sets the fetcher for kind and returns r for chaining.
func (r *Router) Register(kind request.Kind, f Fetcher) *Router {
	r.byKind[kind] = f
	return r
}

func (r *Router) Fetch(ctx context.Context, src request.Source) (*Payload, error) {
	f, ok := r.byKind[src.Kind()]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryFetch, "fetch",
			fmt.Errorf("%w: no fetcher for %s sources", apperrors.ErrInvalidSource, src.Kind()))
	}
	return f.Fetch(ctx, src)
}

func checkKind(op string, src request.Source, want request.Kind) error {
	if src.Kind() != want {
		return apperrors.New(apperrors.CategoryFetch, op,
			fmt.Errorf("%w: %s source given to %s fetcher", apperrors.ErrInvalidSource, src.Kind(), want))
	}
	return nil
}

// readErr classifies a read failure: oversized input is the caller's
// problem, a cancelled context is final, anything else may be retried.
func readErr(op string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrTooLarge):
		return apperrors.New(apperrors.CategoryInput, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.New(apperrors.CategoryFetch, op, err)
	}
	return apperrors.Transient(op, err)
}
