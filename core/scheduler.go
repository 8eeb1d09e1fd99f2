package core

import "sync"

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler is a sorted timer list dispatched from the task goroutine.
// Handlers that return SF_RESCHEDULE must advance WakeTime first.
type Scheduler struct {
	mu   sync.Mutex
	list *Timer
}

// before compares wake times across counter wrap.
func before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Schedule adds t to the schedule
func (s *Scheduler) Schedule(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(t)
}

// insert keeps the list sorted by WakeTime, FIFO among equal times
func (s *Scheduler) insert(t *Timer) {
	if s.list == nil || before(t.WakeTime, s.list.WakeTime) {
		t.Next = s.list
		s.list = t
		return
	}

	current := s.list
	for current.Next != nil && !before(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// Every schedules fn every period milliseconds starting at first.
func (s *Scheduler) Every(first, period uint32, fn func()) *Timer {
	if period == 0 {
		period = 1
	}
	t := &Timer{
		WakeTime: first,
		Handler: func(t *Timer) uint8 {
			fn()
			t.WakeTime += period
			return SF_RESCHEDULE
		},
	}
	s.Schedule(t)
	return t
}

// After runs fn once at wake.
func (s *Scheduler) After(wake uint32, fn func()) *Timer {
	t := &Timer{
		WakeTime: wake,
		Handler: func(*Timer) uint8 {
			fn()
			return SF_DONE
		},
	}
	s.Schedule(t)
	return t
}

// Cancel removes t if it is scheduled.
func (s *Scheduler) Cancel(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := &s.list; *p != nil; p = &(*p).Next {
		if *p == t {
			*p = t.Next
			t.Next = nil
			return
		}
	}
}

// Len returns the number of scheduled timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for t := s.list; t != nil; t = t.Next {
		n++
	}
	return n
}

// Dispatch runs every timer due at now and returns how many ran. A
// rescheduled timer that is still due runs again on the next call, not
// in this one.
func (s *Scheduler) Dispatch(now uint32) int {
	var due []*Timer

	s.mu.Lock()
	for s.list != nil && !before(now, s.list.WakeTime) {
		timer := s.list
		s.list = timer.Next
		timer.Next = nil // Clear Next pointer to avoid circular references
		due = append(due, timer)
	}
	s.mu.Unlock()

	// Handlers run unlocked so they may schedule new timers
	for _, timer := range due {
		if timer.Handler(timer) == SF_RESCHEDULE {
			s.Schedule(timer)
		}
	}
	return len(due)
}
