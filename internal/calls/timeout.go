package calls

import (
	"sync"
	"time"
)

// Supervisor arms one timer per live call and fires a missed-call
// termination when the ring window elapses before the executive joins.
//
// Firing is advisory. The repository's terminal guard is the source of
// truth, so a timer that fires after the call already terminated is a
// harmless no-op, and a timer that never fires (process restart) leaves a
// call the terminal guard still protects.
type Supervisor struct {
	window time.Duration
	fire   func(callID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewSupervisor(window time.Duration, fire func(callID string)) *Supervisor {
	return &Supervisor{
		window: window,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Arm starts the ring-timeout timer for a call. Re-arming an already armed
// call resets its window.
func (s *Supervisor) Arm(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[callID]; ok {
		t.Stop()
	}
	s.timers[callID] = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		delete(s.timers, callID)
		s.mu.Unlock()
		s.fire(callID)
	})
}

// Cancel stops the timer for a call if one is armed. Safe to call for
// calls that were never armed or already fired.
func (s *Supervisor) Cancel(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[callID]; ok {
		t.Stop()
		delete(s.timers, callID)
	}
}

// Stop cancels every armed timer. Called on shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Armed reports whether a timer is currently armed for the call.
func (s *Supervisor) Armed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[callID]
	return ok
}
