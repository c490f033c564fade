package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Scheduler replaces per-action timers with one table of keyed deadlines driven by a
// single goroutine. Scheduling an existing key moves its deadline (debounce).
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	now     func() time.Time
	wake    chan struct{}
}

type timerEntry struct {
	key      string
	deadline time.Time
	fn       func()
}

func NewScheduler(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		entries: make(map[string]*timerEntry),
		now:     now,
		wake:    make(chan struct{}, 1),
	}
}

func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) time.Time {
	s.mu.Lock()
	deadline := s.now().Add(delay)
	s.entries[key] = &timerEntry{key: key, deadline: deadline, fn: fn}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return deadline
}

func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// CancelPrefix drops every entry whose key starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

func (s *Scheduler) Deadline(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunDue fires every entry due at now in deadline order and returns how many ran.
// Callbacks run without the lock held and may reschedule.
func (s *Scheduler) RunDue(now time.Time) int {
	s.mu.Lock()
	var due []*timerEntry
	for key, e := range s.entries {
		if !e.deadline.After(now) {
			due = append(due, e)
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].key < due[j].key
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, e := range due {
		e.fn()
	}
	return len(due)
}

func (s *Scheduler) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, e := range s.entries {
		if !found || e.deadline.Before(next) {
			next = e.deadline
			found = true
		}
	}
	return next, found
}

// Run drives the scheduler off the wall clock until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	const idle = time.Minute

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		wait := idle
		if next, ok := s.next(); ok {
			wait = next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
			s.RunDue(s.now())
		}
	}
}
