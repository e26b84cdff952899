package ref

import "sync"

// closer is the part of a Ref a Scope needs.
type closer interface {
	Close() error
}

// Scope collects references and closes all of them in Close. Use it with
// defer so every exit path, panics included, returns what was taken:
//
//	var scope ref.Scope
//	defer scope.Close()
//	r := ref.Track(&scope, handle.Result())
type Scope struct {
	mu     sync.Mutex
	refs   []closer
	closed int
}

// Track registers r with s and returns it unchanged. A nil r is ignored.
func Track[T any](s *Scope, r *Ref[T]) *Ref[T] {
	if r == nil {
		return nil
	}
	s.mu.Lock()
	s.refs = append(s.refs, r)
	s.mu.Unlock()
	return r
}

// Len reports how many references are tracked.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

// Close closes every tracked reference in reverse order and returns how many
// were closed by this call.
func (s *Scope) Close() int {
	s.mu.Lock()
	refs := s.refs
	s.refs = nil
	s.mu.Unlock()

	for i := len(refs) - 1; i >= 0; i-- {
		_ = refs[i].Close()
	}
	s.mu.Lock()
	s.closed += len(refs)
	s.mu.Unlock()
	return len(refs)
}

// Closed reports the total number of references closed by s.
func (s *Scope) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
