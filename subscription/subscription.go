// Package subscription attaches result sinks to fetch handles.
//
// A subscription watches one handle, ignores intermediate results and acts on
// the first terminal update only. On success it takes its own reference to
// the pooled buffer, copies the buffer into a value the caller owns and
// releases every reference it took before the update handler returns. On
// failure it logs the cause. All handling, including the sink call, runs on
// the executor the subscription was created with; updates for one handle are
// handled one at a time and in the order the handle emitted them.
package subscription

import (
	"context"
	"errors"
	"image"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/datasource"
	"github.com/Skryldev/imageloader/executor"
	"github.com/Skryldev/imageloader/ref"
)

// DefaultTag is the tag attached to failure log entries.
const DefaultTag = "ImageLoader"

// Status is the terminal state of a subscription.
type Status int

const (
	// StatusSuccess means a value was delivered to the sink.
	StatusSuccess Status = iota + 1
	// StatusEmpty means the handle succeeded without a usable payload.
	StatusEmpty
	StatusFailure
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmpty:
		return "empty"
	case StatusFailure:
		return "failure"
	case StatusCancelled:
		return "cancelled"
	}
	return "pending"
}

// Result is the outcome of a subscription.
type Result[V any] struct {
	Status Status
	Value  V
	Err    error
}

// Subscription is a single-shot future over one handle.
type Subscription[V any] struct {
	id     string
	flow   string
	closer func()

	cancelled atomic.Bool
	handled   atomic.Bool

	once    sync.Once
	done    chan struct{}
	result  Result[V]
	metrics core.MetricsCollector
}

func newSubscription[V any](id, flow string, metrics core.MetricsCollector) *Subscription[V] {
	return &Subscription[V]{id: id, flow: flow, metrics: metrics, done: make(chan struct{})}
}

// ID returns the request id of the observed handle.
func (s *Subscription[V]) ID() string { return s.id }

// Done is closed once the subscription reached a terminal state.
func (s *Subscription[V]) Done() <-chan struct{} { return s.done }

// Result returns the outcome and whether it is available yet.
func (s *Subscription[V]) Result() (Result[V], bool) {
	select {
	case <-s.done:
		return s.result, true
	default:
		return Result[V]{}, false
	}
}

// Wait blocks until the subscription finishes or ctx is done.
func (s *Subscription[V]) Wait(ctx context.Context) (Result[V], error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result[V]{}, ctx.Err()
	}
}

// Cancel suppresses any later delivery and closes the handle. It returns
// false if a terminal update was already being handled.
func (s *Subscription[V]) Cancel() bool {
	s.cancelled.Store(true)
	if !s.handled.CompareAndSwap(false, true) {
		return false
	}
	s.resolve(Result[V]{Status: StatusCancelled})
	s.closer()
	return true
}

func (s *Subscription[V]) resolve(r Result[V]) {
	s.once.Do(func() {
		s.result = r
		s.metrics.RecordDelivery(s.flow, r.Status.String())
		close(s.done)
	})
}

// Option configures a subscription.
type Option func(*options)

type options struct {
	ctx     context.Context
	logger  core.Logger
	metrics core.MetricsCollector
	tag     string
	copier  func(*core.PooledBitmap) (*image.RGBA, error)
}

// WithContext sets the context used for persistence I/O.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithLogger routes failure reports to l.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records deliveries and buffer references on m.
func WithMetrics(m core.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithTag overrides the tag on failure log entries.
func WithTag(tag string) Option {
	return func(o *options) { o.tag = tag }
}

func buildOptions(opts []Option) options {
	o := options{
		ctx:     context.Background(),
		logger:  core.NopLogger{},
		metrics: core.NopMetrics{},
		tag:     DefaultTag,
		copier:  (*core.PooledBitmap).Copy,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// flow holds what differs between the bitmap and the download flows.
type flow[T, V any] struct {
	name string
	// usable reports whether the borrowed buffer can still be read.
	usable func(T) bool
	// extract copies the buffer into a caller-owned value.
	extract func(T) (V, error)
	deliver func(V)
	// fail is the sink's failure callback; nil when the sink has none.
	fail func(error)
}

// observer is the datasource.Subscriber side of a Subscription.
type observer[T, V any] struct {
	sub  *Subscription[V]
	flow flow[T, V]
	o    options
}

func attach[T, V any](h datasource.Handle[T], exec executor.Executor, f flow[T, V], o options) *Subscription[V] {
	if exec == nil {
		exec = executor.Immediate()
	}
	sub := newSubscription[V](h.ID(), f.name, o.metrics)
	obs := &observer[T, V]{sub: sub, flow: f, o: o}
	sub.closer = func() {
		h.Unsubscribe(obs)
		h.Close()
	}
	h.Subscribe(obs, executor.Sequential(exec))
	return sub
}

func (ob *observer[T, V]) OnNewResult(h datasource.Handle[T]) {
	if !h.IsFinished() {
		return
	}
	ob.terminal(h)
}

func (ob *observer[T, V]) OnFailure(h datasource.Handle[T]) { ob.terminal(h) }

func (ob *observer[T, V]) OnCancellation(datasource.Handle[T]) {
	if ob.sub.handled.CompareAndSwap(false, true) {
		ob.sub.resolve(Result[V]{Status: StatusCancelled})
	}
}

func (ob *observer[T, V]) OnProgressUpdate(datasource.Handle[T]) {}

func (ob *observer[T, V]) terminal(h datasource.Handle[T]) {
	if ob.sub.cancelled.Load() || !ob.sub.handled.CompareAndSwap(false, true) {
		return
	}
	defer h.Close()

	if h.HasFailed() {
		cause := h.FailureCause()
		if cause == nil {
			cause = errors.New("unknown failure")
		}
		ob.o.logger.Error("image fetch failed", "tag", ob.o.tag, "request_id", h.ID(), "cause", cause)
		ob.fail(cause)
		return
	}
	ob.succeed(h)
}

func (ob *observer[T, V]) succeed(h datasource.Handle[T]) {
	var scope ref.Scope
	defer func() {
		for n := scope.Close(); n > 0; n-- {
			ob.o.metrics.RecordBufferRelease()
		}
	}()

	delivered := false
	defer func() {
		if p := recover(); p != nil {
			err := &executor.PanicError{Value: p, Stack: debug.Stack()}
			ob.o.logger.Error("image delivery panicked", "tag", ob.o.tag, "request_id", h.ID(), "cause", err)
			if delivered {
				ob.sub.resolve(Result[V]{Status: StatusFailure, Err: err})
				return
			}
			ob.fail(err)
		}
	}()

	result := ob.track(&scope, h.Result())
	if result == nil {
		ob.sub.resolve(Result[V]{Status: StatusEmpty})
		return
	}
	clone := ob.track(&scope, ref.CloneOrNil(result))
	if clone == nil {
		ob.sub.resolve(Result[V]{Status: StatusEmpty})
		return
	}
	buf := clone.Get()
	if !ob.flow.usable(buf) {
		ob.sub.resolve(Result[V]{Status: StatusEmpty})
		return
	}

	v, err := ob.flow.extract(buf)
	if err != nil {
		ob.o.logger.Error("image delivery failed", "tag", ob.o.tag, "request_id", h.ID(), "cause", err)
		ob.fail(err)
		return
	}
	if ob.sub.cancelled.Load() {
		ob.sub.resolve(Result[V]{Status: StatusCancelled})
		return
	}
	delivered = true
	ob.flow.deliver(v)
	ob.sub.resolve(Result[V]{Status: StatusSuccess, Value: v})
}

func (ob *observer[T, V]) track(scope *ref.Scope, r *ref.Ref[T]) *ref.Ref[T] {
	if r == nil {
		return nil
	}
	ob.o.metrics.RecordBufferClone()
	return ref.Track(scope, r)
}

// fail resolves the subscription as failed and notifies the sink if it has a
// failure callback. Cancelled subscriptions stay silent.
func (ob *observer[T, V]) fail(err error) {
	if ob.sub.cancelled.Load() {
		ob.sub.resolve(Result[V]{Status: StatusCancelled, Err: err})
		return
	}
	if ob.flow.fail != nil {
		ob.flow.fail(err)
	}
	ob.sub.resolve(Result[V]{Status: StatusFailure, Err: err})
}
