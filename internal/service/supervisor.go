package service

import (
	"sync"
	"time"
)

// TimeoutSupervisor holds at most one outstanding deadline for an attempt.
type TimeoutSupervisor struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	token uint64
}

func NewTimeoutSupervisor() *TimeoutSupervisor {
	return &TimeoutSupervisor{}
}

// Arm schedules fire(token) after d, clearing any previous deadline first.
func (s *TimeoutSupervisor) Arm(d time.Duration, token uint64, fire func(token uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	s.token = token
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fire(token)
	})
}

// Clear drops the pending deadline. A callback already past its timer is
// discarded as well.
func (s *TimeoutSupervisor) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
}

// Token returns the attempt token of the pending deadline, if any.
func (s *TimeoutSupervisor) Token() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.timer != nil
}

func (s *TimeoutSupervisor) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
