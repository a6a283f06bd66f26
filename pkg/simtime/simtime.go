// Package simtime implements the discrete-event virtual clock that every
// periodic component in this simulator schedules itself against. It is the
// scheduling primitive spec.md treats as an opaque collaborator: a min-heap
// of (fire-time, subscriber) pairs advanced serially, single-threaded, with
// no preemption — the same shape as the teacher's task.Scheduler
// (resmgr/task/scheduler.go), except time here is a virtual millisecond
// counter instead of a wall-clock timer channel.
package simtime

import (
	"container/heap"
	"sync"
)

// Tickable is implemented by anything that wants to be woken up by the
// simulation clock, either periodically or once.
type Tickable interface {
	// Tick is invoked with the current virtual time, in milliseconds, when
	// the subscription fires. It runs to completion before the clock
	// advances any further — this is the only suspension point in the
	// model.
	Tick(now int64)
}

// TickableFunc adapts a plain function to Tickable.
type TickableFunc func(now int64)

// Tick implements Tickable.
func (f TickableFunc) Tick(now int64) { f(now) }

// Simulation owns the virtual clock and the subscription heap. There is
// exactly one Simulation per run; every periodic component in the harness
// holds a reference to it, never ownership of it.
type Simulation struct {
	mu      sync.Mutex
	now     int64
	entries subHeap
	nextSub uint64
}

// New creates an idle simulation with the clock at time zero.
func New() *Simulation {
	s := &Simulation{}
	heap.Init(&s.entries)
	return s
}

// Now returns the current virtual time in milliseconds.
func (s *Simulation) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Subscribe registers t to be ticked every periodMs milliseconds, starting
// at now+periodMs. Every call creates a new, independent subscription, so
// subscribing the same Tickable twice ticks it twice per period; callers
// that want to replace a subscription should keep the returned handle and
// call Unsubscribe on it first.
func (s *Simulation) Subscribe(t Tickable, periodMs int64) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription{
		sim:    s,
		t:      t,
		period: periodMs,
		subID:  s.nextSub,
	}
	s.nextSub++
	sub.fireAt = s.now + periodMs
	heap.Push(&s.entries, sub)
	return sub
}

// After schedules fn to run exactly once, delayMs from now. It is a thin
// convenience wrapper over Subscribe for one-shot timers (e.g. VM boot
// completion) that unsubscribe themselves on first fire.
func (s *Simulation) After(delayMs int64, fn func(now int64)) *Subscription {
	var sub *Subscription
	wrapped := TickableFunc(func(now int64) {
		fn(now)
		sub.Unsubscribe()
	})
	sub = s.Subscribe(wrapped, delayMs)
	return sub
}

// SkipUntil fast-forwards the virtual clock to t without firing any
// subscriptions along the way, but only if t is in the future. Used by the
// arrival handler to jump to the first job's submit time.
func (s *Simulation) SkipUntil(t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t > s.now {
		s.now = t
	}
}

// RunUntilIdle drains the subscription heap, firing subscribers in
// (fire-time, subscription-order) order until none remain. Co-firing
// subscribers (same fire-time) are ordered by subscription order — the
// tie-break resolves the intra-tick ordering left unspecified by spec.md
// §5/§9.
func (s *Simulation) RunUntilIdle() {
	for {
		if !s.Step() {
			return
		}
	}
}

// Step fires the single earliest-pending subscription and returns true, or
// returns false if the heap is empty. It is the bounded building block
// RunUntilIdle loops on; tests use it directly to drive the clock a fixed
// number of events at a time instead of running to exhaustion.
func (s *Simulation) Step() bool {
	sub, firedAt := s.popNext()
	if sub == nil {
		return false
	}
	sub.t.Tick(firedAt)
	return true
}

// popNext removes and returns the earliest-firing active subscription along
// with the virtual time it fired at, advancing the clock to that time.
// Subscriptions still periodic are re-armed for their next fire time before
// the callback runs (their fireAt field no longer reflects the time
// returned here), so that a callback which calls UpdateFrequency or
// Unsubscribe on itself observes and controls its own next fire.
func (s *Simulation) popNext() (*Subscription, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.entries.Len() > 0 {
		sub := heap.Pop(&s.entries).(*Subscription)
		if !sub.active {
			continue
		}
		firedAt := sub.fireAt
		s.now = firedAt
		if sub.period > 0 {
			sub.fireAt = s.now + sub.period
			heap.Push(&s.entries, sub)
		} else {
			sub.active = false
		}
		return sub, firedAt
	}
	return nil, 0
}

// Subscription is the handle returned by Subscribe. All methods are safe to
// call from inside the Tickable's own Tick callback.
type Subscription struct {
	sim    *Simulation
	t      Tickable
	period int64
	fireAt int64
	subID  uint64
	active bool
	index  int
}

// Unsubscribe cancels the subscription. Unsubscribing an already-inactive
// subscription is a no-op, matching §5's cancellation idempotence law.
func (sub *Subscription) Unsubscribe() {
	sub.sim.mu.Lock()
	defer sub.sim.mu.Unlock()
	sub.active = false
}

// IsSubscribed reports whether the subscription is still active.
func (sub *Subscription) IsSubscribed() bool {
	sub.sim.mu.Lock()
	defer sub.sim.mu.Unlock()
	return sub.active
}

// UpdateFrequency changes the period of an active subscription and
// reschedules its next fire relative to the current virtual time. Passing a
// non-positive period turns the subscription into a one-shot: it fires once
// more at the current virtual time plus newPeriodMs, then deactivates.
func (sub *Subscription) UpdateFrequency(newPeriodMs int64) {
	sub.sim.mu.Lock()
	defer sub.sim.mu.Unlock()
	if !sub.active {
		return
	}
	sub.period = newPeriodMs
	sub.fireAt = sub.sim.now + newPeriodMs
	heap.Fix(&sub.sim.entries, sub.index)
}

// FireAt reschedules an active subscription to fire at an absolute virtual
// time rather than relative to now. Used by the arrival handler to align its
// next tick exactly with the next job's submit time.
func (sub *Subscription) FireAt(absoluteMs int64) {
	sub.sim.mu.Lock()
	defer sub.sim.mu.Unlock()
	if !sub.active {
		return
	}
	sub.fireAt = absoluteMs
	heap.Fix(&sub.sim.entries, sub.index)
}

// subHeap implements container/heap.Interface over active subscriptions,
// ordered by (fireAt, subID) so that subscribers registered earlier fire
// first when two entries share a fire time.
type subHeap []*Subscription

func (h subHeap) Len() int { return len(h) }

func (h subHeap) Less(i, j int) bool {
	if h[i].fireAt != h[j].fireAt {
		return h[i].fireAt < h[j].fireAt
	}
	return h[i].subID < h[j].subID
}

func (h subHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *subHeap) Push(x interface{}) {
	sub := x.(*Subscription)
	sub.active = true
	sub.index = len(*h)
	*h = append(*h, sub)
}

func (h *subHeap) Pop() interface{} {
	old := *h
	n := len(old)
	sub := old[n-1]
	old[n-1] = nil
	sub.index = -1
	*h = old[:n-1]
	return sub
}
