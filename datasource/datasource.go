// Package datasource implements the fetch handle a pipeline returns for one
// request. A DataSource moves through zero or more intermediate results and
// ends in exactly one terminal state, success or failure, after which it is
// inert. Closing a DataSource before that cancels the request.
//
// Subscribers are notified through the executor they subscribed with; the
// DataSource never calls a subscriber on the producer goroutine unless that
// executor does so.
package datasource

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Skryldev/imageloader/executor"
	"github.com/Skryldev/imageloader/ref"
)

// Subscriber observes a Handle. OnNewResult fires for intermediate and final
// results alike; callers tell them apart with IsFinished.
type Subscriber[T any] interface {
	OnNewResult(h Handle[T])
	OnFailure(h Handle[T])
	OnCancellation(h Handle[T])
	OnProgressUpdate(h Handle[T])
}

// Handle is the consumer side of a DataSource.
type Handle[T any] interface {
	// ID is the request id assigned when the handle was created.
	ID() string
	IsClosed() bool
	// IsFinished reports whether a terminal state was reached.
	IsFinished() bool
	HasResult() bool
	HasFailed() bool
	Progress() float64
	// Result returns a new reference to the latest result, or nil. The caller
	// owns the returned reference and must close it.
	Result() *ref.Ref[T]
	FailureCause() error
	Subscribe(s Subscriber[T], exec executor.Executor)
	Unsubscribe(s Subscriber[T])
	// Close releases the handle's result and, if the request is still in
	// flight, cancels it. It returns false if the handle was already closed.
	Close() bool
}

type state int

const (
	stateInProgress state = iota
	stateSuccess
	stateFailure
)

type subscription[T any] struct {
	s    Subscriber[T]
	exec executor.Executor
}

// DataSource is the producer side of a Handle. It is safe for concurrent use.
type DataSource[T any] struct {
	id       string
	onCancel func()

	mu       sync.Mutex
	state    state
	closed   bool
	result   *ref.Ref[T]
	cause    error
	progress float64
	subs     []subscription[T]
}

// Option configures a DataSource.
type Option func(*config)

type config struct {
	id       string
	onCancel func()
}

// WithID sets the request id instead of generating one.
func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

// WithCancel registers fn to run when the DataSource is closed before it
// finishes. Producers use it to stop in-flight work.
func WithCancel(fn func()) Option {
	return func(c *config) { c.onCancel = fn }
}

// New returns an in-progress DataSource.
func New[T any](opts ...Option) *DataSource[T] {
	var c config
	for _, o := range opts {
		o(&c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	return &DataSource[T]{id: c.id, onCancel: c.onCancel}
}

// Succeeded returns a DataSource already finished with r.
func Succeeded[T any](r *ref.Ref[T], opts ...Option) *DataSource[T] {
	d := New[T](opts...)
	d.SetResult(r, true)
	return d
}

// Failed returns a DataSource already finished with err.
func Failed[T any](err error, opts ...Option) *DataSource[T] {
	d := New[T](opts...)
	d.SetFailure(err)
	return d
}

func (d *DataSource[T]) ID() string { return d.id }

func (d *DataSource[T]) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DataSource[T]) IsFinished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state != stateInProgress
}

func (d *DataSource[T]) HasResult() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.result != nil
}

func (d *DataSource[T]) HasFailed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateFailure
}

func (d *DataSource[T]) Progress() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

func (d *DataSource[T]) Result() *ref.Ref[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return ref.CloneOrNil(d.result)
}

func (d *DataSource[T]) FailureCause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cause
}

// SetResult publishes r and takes ownership of it. An intermediate result
// (isLast false) replaces the previous one; the last result finishes the
// DataSource. If the DataSource is closed or already finished, r is closed
// and false is returned.
func (d *DataSource[T]) SetResult(r *ref.Ref[T], isLast bool) bool {
	d.mu.Lock()
	if d.closed || d.state != stateInProgress {
		d.mu.Unlock()
		_ = r.Close()
		return false
	}
	old := d.result
	d.result = r
	if isLast {
		d.state = stateSuccess
		d.progress = 1
	}
	subs := d.snapshot()
	d.mu.Unlock()

	if old != nil && old != r {
		_ = old.Close()
	}
	d.notify(subs, onNewResult[T])
	return true
}

// SetFailure finishes the DataSource with err. It returns false if the
// DataSource is closed or already finished.
func (d *DataSource[T]) SetFailure(err error) bool {
	d.mu.Lock()
	if d.closed || d.state != stateInProgress {
		d.mu.Unlock()
		return false
	}
	d.state = stateFailure
	d.cause = err
	subs := d.snapshot()
	d.mu.Unlock()

	d.notify(subs, onFailure[T])
	return true
}

// SetProgress records progress in [0, 1]. Progress never goes backwards.
func (d *DataSource[T]) SetProgress(p float64) bool {
	d.mu.Lock()
	if d.closed || d.state != stateInProgress || p <= d.progress {
		d.mu.Unlock()
		return false
	}
	d.progress = min(p, 1)
	subs := d.snapshot()
	d.mu.Unlock()

	d.notify(subs, onProgressUpdate[T])
	return true
}

func (d *DataSource[T]) Subscribe(s Subscriber[T], exec executor.Executor) {
	if exec == nil {
		exec = executor.Immediate()
	}
	d.mu.Lock()
	if !d.closed {
		d.subs = append(d.subs, subscription[T]{s: s, exec: exec})
	}
	var fn func(Subscriber[T], Handle[T])
	switch {
	case d.state == stateFailure:
		fn = onFailure[T]
	case d.closed && d.result == nil:
		// Closed before finishing, or finished and released: either way
		// nothing is left to deliver.
		fn = onCancellation[T]
	case d.result != nil:
		fn = onNewResult[T]
	}
	d.mu.Unlock()

	if fn != nil {
		d.notify([]subscription[T]{{s: s, exec: exec}}, fn)
	}
}

func (d *DataSource[T]) Unsubscribe(s Subscriber[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, sub := range d.subs {
		if sub.s == s {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

func (d *DataSource[T]) Close() bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.closed = true
	r := d.result
	d.result = nil
	cancelled := d.state == stateInProgress
	subs := d.snapshot()
	d.subs = nil
	d.mu.Unlock()

	_ = r.Close()
	if cancelled {
		if d.onCancel != nil {
			d.onCancel()
		}
		d.notify(subs, onCancellation[T])
	}
	return true
}

// snapshot copies the subscriber list. Callers hold d.mu.
func (d *DataSource[T]) snapshot() []subscription[T] {
	if len(d.subs) == 0 {
		return nil
	}
	out := make([]subscription[T], len(d.subs))
	copy(out, d.subs)
	return out
}

func onNewResult[T any](s Subscriber[T], h Handle[T])      { s.OnNewResult(h) }
func onFailure[T any](s Subscriber[T], h Handle[T])        { s.OnFailure(h) }
func onCancellation[T any](s Subscriber[T], h Handle[T])   { s.OnCancellation(h) }
func onProgressUpdate[T any](s Subscriber[T], h Handle[T]) { s.OnProgressUpdate(h) }

func (d *DataSource[T]) notify(subs []subscription[T], fn func(Subscriber[T], Handle[T])) {
	for _, sub := range subs {
		s := sub.s
		sub.exec.Execute(func() { fn(s, d) })
	}
}
