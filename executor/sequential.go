package executor

import "sync"

// sequential forwards tasks to base one at a time. While a drain is running
// on base, new tasks join the queue instead of being handed over, so tasks
// never run concurrently and run in submission order.
type sequential struct {
	base    Executor
	mu      sync.Mutex
	queue   []func()
	running bool
}

// Sequential returns an executor that serialises tasks on top of base.
func Sequential(base Executor) Executor {
	if base == nil {
		base = Immediate()
	}
	return &sequential{base: base}
}

func (s *sequential) Execute(task func()) {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	s.base.Execute(s.drain)
}

func (s *sequential) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.run(task)
	}
}

// run keeps the drain loop alive if a task panics; the panic is re-raised
// after the remaining tasks are rescheduled.
func (s *sequential) run(task func()) {
	ok := false
	defer func() {
		if !ok {
			s.mu.Lock()
			pending := len(s.queue) > 0
			if !pending {
				s.running = false
			}
			s.mu.Unlock()
			if pending {
				s.base.Execute(s.drain)
			}
		}
	}()
	task()
	ok = true
}
