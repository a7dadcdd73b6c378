// Package credential holds the bearer credential of a dashboard session and
// broadcasts changes to it.
package credential

import "sync"

// Signal is a payload-free broadcast fired whenever the credential changes.
type Signal struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

// Subscribe registers fn and returns a function that removes it again.
func (s *Signal) Subscribe(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func())
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Notify calls every subscriber. Subscribers run outside the lock so they may
// subscribe or unsubscribe themselves.
func (s *Signal) Notify() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Len returns the number of active subscribers.
func (s *Signal) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
