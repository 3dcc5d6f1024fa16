package flow

import "sync"

// Signal is an edge-triggered boolean broadcast with last-value semantics.
//
// Publishers call Set; subscribers receive a notification only when the
// value changes. A late subscriber sees the current state immediately via
// the bool returned from Subscribe.
type Signal struct {
	mu   sync.Mutex
	val  bool
	subs []chan bool
}

// NewSignal creates a signal in the inactive state.
func NewSignal() *Signal {
	return &Signal{}
}

// Set publishes a new value. No-op unless the value changed.
func (s *Signal) Set(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.val == v {
		return
	}
	s.val = v

	for _, ch := range s.subs {
		// Non-blocking: a slow subscriber keeps only the freshest edge.
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Get returns the current value.
func (s *Signal) Get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// Subscribe registers a listener. The returned bool is the current state;
// the channel delivers subsequent edges.
func (s *Signal) Subscribe() (bool, <-chan bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan bool, 1)
	s.subs = append(s.subs, ch)
	return s.val, ch
}
