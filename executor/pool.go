package executor

import (
	"runtime"
	"sync"
)

// Pool runs tasks on a fixed number of worker goroutines fed from a bounded
// queue. Execute blocks while the queue is full. Tasks submitted after Close
// run inline on the submitting goroutine so no callback is lost.
type Pool struct {
	tasks    chan func()
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	workers  int
	onPanic  PanicHandler
}

// NewPool starts a pool with the given worker count (NumCPU when <= 0) and
// queue size (256 when <= 0).
func NewPool(workers, queueSize int, onPanic PanicHandler) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{
		tasks:   make(chan func(), queueSize),
		workers: workers,
		onPanic: onPanic,
	}
	p.start()
	return p
}

// NewSerial starts a single-worker pool: tasks run one at a time, in
// submission order, on one background goroutine.
func NewSerial(queueSize int, onPanic PanicHandler) *Pool {
	return NewPool(1, queueSize, onPanic)
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		runGuarded(task, p.onPanic)
	}
}

// Execute queues task for a worker.
func (p *Pool) Execute(task func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		runGuarded(task, p.onPanic)
		return
	}
	p.tasks <- task
	p.mu.RUnlock()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Close stops accepting queued work, lets the workers drain what is already
// queued, and waits for them to exit.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
