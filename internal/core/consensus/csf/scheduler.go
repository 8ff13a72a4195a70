// Package csf is a consensus simulation framework. Peers run the real RCL
// engine against a discrete event scheduler, a simulated network and a
// shared ledger oracle, so multi-node scenarios replay deterministically
// without wall clock time.
package csf

import (
	"container/heap"
	"sync"
	"time"
)

// SimTime is simulated time measured from the start of the simulation.
type SimTime time.Duration

// SimDuration is an alias for time.Duration used in simulation.
type SimDuration = time.Duration

type event struct {
	when    SimTime
	seq     uint64 // ties at the same time run in scheduling order
	handler func()
	index   int
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].when == h[j].when {
		return h[i].seq < h[j].seq
	}
	return h[i].when < h[j].when
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is a discrete event scheduler. Handlers run in time order and
// time jumps straight to the next event.
type Scheduler struct {
	mu      sync.Mutex
	epoch   time.Time
	now     SimTime
	events  eventHeap
	nextSeq uint64
}

// NewScheduler creates a scheduler whose time zero is epoch.
func NewScheduler(epoch time.Time) *Scheduler {
	s := &Scheduler{epoch: epoch}
	heap.Init(&s.events)
	return s
}

// Now returns the current simulated time.
func (s *Scheduler) Now() SimTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// NowTime returns the current simulated time on the wall clock.
func (s *Scheduler) NowTime() time.Time {
	return s.epoch.Add(time.Duration(s.Now()))
}

// Epoch returns the wall clock time of simulated time zero.
func (s *Scheduler) Epoch() time.Time { return s.epoch }

// In schedules handler to run after d. The returned function cancels it.
func (s *Scheduler) In(d SimDuration, handler func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push(s.now+SimTime(d), handler)
}

// At schedules handler to run at when. The returned function cancels it.
func (s *Scheduler) At(when SimTime, handler func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if when < s.now {
		when = s.now
	}
	return s.push(when, handler)
}

// push adds an event. Caller holds mu.
func (s *Scheduler) push(when SimTime, handler func()) func() {
	e := &event{when: when, seq: s.nextSeq, handler: handler}
	s.nextSeq++
	heap.Push(&s.events, e)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.index >= 0 {
			heap.Remove(&s.events, e.index)
		}
	}
}

// pop removes the next event if it is due by until.
func (s *Scheduler) pop(until SimTime, bounded bool) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events.Len() == 0 || (bounded && s.events[0].when > until) {
		return nil, false
	}
	e := heap.Pop(&s.events).(*event)
	s.now = e.when
	return e.handler, true
}

// StepOne runs the next event. Returns false if none is pending.
func (s *Scheduler) StepOne() bool {
	h, ok := s.pop(0, false)
	if !ok {
		return false
	}
	h()
	return true
}

// Step runs every event due at the current time.
func (s *Scheduler) Step() int {
	return s.StepUntil(s.Now())
}

// StepFor runs events for d of simulated time.
func (s *Scheduler) StepFor(d SimDuration) int {
	return s.StepUntil(s.Now() + SimTime(d))
}

// StepUntil runs events up to and including until, then sets the clock to
// until.
func (s *Scheduler) StepUntil(until SimTime) int {
	count := 0
	for {
		h, ok := s.pop(until, true)
		if !ok {
			break
		}
		h()
		count++
	}
	s.mu.Lock()
	if s.now < until {
		s.now = until
	}
	s.mu.Unlock()
	return count
}

// StepWhile runs events while pred holds.
func (s *Scheduler) StepWhile(pred func() bool) int {
	count := 0
	for pred() {
		if !s.StepOne() {
			break
		}
		count++
	}
	return count
}

// Empty reports whether no events are pending.
func (s *Scheduler) Empty() bool {
	return s.PendingCount() == 0
}

// PendingCount returns the number of pending events.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}
