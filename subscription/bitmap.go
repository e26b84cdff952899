package subscription

import (
	"image"

	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/datasource"
	"github.com/Skryldev/imageloader/executor"
)

// BitmapSink receives a decoded image. It is called at most once per
// request and never on failure.
type BitmapSink interface {
	OnResult(img *image.RGBA)
}

// BitmapSinkFunc adapts a function to BitmapSink.
type BitmapSinkFunc func(img *image.RGBA)

func (f BitmapSinkFunc) OnResult(img *image.RGBA) { f(img) }

// FailureSink is an optional extension of BitmapSink. Sinks that implement
// it are told about failures instead of receiving no call at all.
type FailureSink interface {
	OnFailure(err error)
}

// WithBitmapCopier replaces the function that copies pixels out of a pooled
// bitmap.
func WithBitmapCopier(fn func(*core.PooledBitmap) (*image.RGBA, error)) Option {
	return func(o *options) { o.copier = fn }
}

// SubscribeBitmap delivers the decoded bitmap of h to sink as an independent
// copy, dispatched on exec.
func SubscribeBitmap(h datasource.Handle[*core.PooledBitmap], exec executor.Executor, sink BitmapSink, opts ...Option) *Subscription[*image.RGBA] {
	o := buildOptions(opts)
	f := flow[*core.PooledBitmap, *image.RGBA]{
		name: "bitmap",
		usable: func(b *core.PooledBitmap) bool {
			return b != nil && !b.IsRecycled()
		},
		extract: o.copier,
		deliver: sink.OnResult,
	}
	if fs, ok := sink.(FailureSink); ok {
		f.fail = fs.OnFailure
	}
	return attach(h, exec, f, o)
}
