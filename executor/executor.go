// Package executor provides the execution contexts result callbacks are
// dispatched on.
//
// Three policies are supported:
//   - Immediate runs the task on the goroutine that submits it. Use it when
//     the callback must stay in lockstep with the producer, e.g. a UI loop
//     that drives updates itself.
//   - Serial runs tasks one at a time on a dedicated background worker. Use
//     it for cheap callbacks that do not touch UI state.
//   - Pool runs tasks on a fixed set of workers. Use it for callbacks doing
//     blocking I/O so no other context is held up.
//
// Sequential wraps any of these (or a caller-supplied Func) so that tasks
// submitted through one wrapper never overlap and keep their order.
package executor

import (
	"fmt"
	"runtime/debug"
)

// Executor runs tasks. Execute must not block for longer than it takes to
// hand the task over.
type Executor interface {
	Execute(task func())
}

// Func adapts a plain function, such as a caller's own scheduler, to Executor.
type Func func(task func())

func (f Func) Execute(task func()) { f(task) }

type immediate struct{}

func (immediate) Execute(task func()) { task() }

// Immediate returns an executor that runs tasks synchronously on the caller.
func Immediate() Executor { return immediate{} }

// PanicHandler receives panics recovered from tasks.
type PanicHandler func(p any, stack []byte)

func runGuarded(task func(), onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r, debug.Stack())
		}
	}()
	task()
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
