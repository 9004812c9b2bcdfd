// Package waitq implements named wait queues: condition variables whose
// waiters each carry their own predicate.
//
// A Registry is bound to the lock that guards the state its predicates read.
// Wait and Wakeup must both be called with that lock held. Wakeup evaluates
// every registered predicate for a name once, wakes the waiters whose
// predicate now holds and leaves the rest registered. A woken waiter
// re-checks its predicate after reacquiring the lock and re-registers with
// its original ticket if it lost a race.
//
// A registry made with NewFIFO serves waiters that consume what they waited
// for. Wakeup then wakes only the earliest waiter whose predicate holds, and
// no other waiter is woken until that one has reacquired the lock. The
// caller passes the turn on by calling Wakeup again once it has consumed.
package waitq

import (
	"context"
	"sort"
	"sync"
)

type waiter struct {
	ticket uint64
	ready  func() bool
	wake   chan struct{}
}

// Registry holds the wait queues guarded by one lock.
type Registry struct {
	L sync.Locker

	queues map[string][]*waiter
	next   uint64

	// fifo registries hand the turn to one waiter at a time; handoff holds
	// the woken waiter per name until it runs.
	fifo    bool
	handoff map[string]*waiter
}

// New creates a registry guarded by l whose Wakeup wakes every satisfied
// waiter.
func New(l sync.Locker) *Registry {
	return &Registry{
		L:      l,
		queues: make(map[string][]*waiter),
	}
}

// NewFIFO creates a registry guarded by l that serves satisfied waiters one
// at a time in the order they started waiting.
func NewFIFO(l sync.Locker) *Registry {
	r := New(l)
	r.fifo = true
	r.handoff = make(map[string]*waiter)
	return r
}

// Turn reports whether a caller that is not queued on name may proceed
// without waiting: ready holds and, on a FIFO registry, no earlier waiter is
// owed the turn. It must be called with r.L held.
func (r *Registry) Turn(name string, ready func() bool) bool {
	if !ready() {
		return false
	}
	if !r.fifo {
		return true
	}
	if r.handoff[name] != nil {
		return false
	}
	if r.firstReady(name) >= 0 {
		r.Wakeup(name)
		return false
	}
	return true
}

// Wait suspends the caller until ready reports true or ctx is done. It must
// be called with r.L held and returns with r.L held. On cancellation it
// returns context.Cause(ctx).
func (r *Registry) Wait(ctx context.Context, name string, ready func() bool) error {
	if r.Turn(name, ready) {
		return nil
	}

	r.next++
	w := &waiter{ticket: r.next, ready: ready}

	for {
		w.wake = make(chan struct{})
		r.insert(name, w)
		if r.fifo && r.handoff[name] == nil {
			r.Wakeup(name)
		}

		r.L.Unlock()
		select {
		case <-w.wake:
			r.L.Lock()
		case <-ctx.Done():
			r.L.Lock()
			if r.fifo && r.handoff[name] == w {
				delete(r.handoff, name)
				r.Wakeup(name)
			} else {
				r.remove(name, w)
			}
			return context.Cause(ctx)
		}

		if r.fifo && r.handoff[name] == w {
			delete(r.handoff, name)
		}
		if ready() {
			return nil
		}
	}
}

// Wakeup wakes the waiters on name whose predicate holds: all of them, or on
// a FIFO registry the earliest one. It must be called with r.L held.
func (r *Registry) Wakeup(name string) {
	q := r.queues[name]
	if len(q) == 0 {
		return
	}

	if r.fifo {
		if r.handoff[name] != nil {
			return
		}
		i := r.firstReady(name)
		if i < 0 {
			return
		}
		w := q[i]
		r.remove(name, w)
		r.handoff[name] = w
		close(w.wake)
		return
	}

	kept := q[:0]
	for _, w := range q {
		if w.ready() {
			close(w.wake)
			continue
		}
		kept = append(kept, w)
	}

	if len(kept) == 0 {
		delete(r.queues, name)
		return
	}
	r.queues[name] = kept
}

// Len returns the number of waiters registered on name.
func (r *Registry) Len(name string) int {
	return len(r.queues[name])
}

// firstReady returns the index of the earliest waiter on name whose
// predicate holds, or -1.
func (r *Registry) firstReady(name string) int {
	for i, w := range r.queues[name] {
		if w.ready() {
			return i
		}
	}
	return -1
}

func (r *Registry) insert(name string, w *waiter) {
	q := r.queues[name]
	i := sort.Search(len(q), func(i int) bool { return q[i].ticket > w.ticket })
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = w
	r.queues[name] = q
}

func (r *Registry) remove(name string, w *waiter) {
	q := r.queues[name]
	for i, x := range q {
		if x == w {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(r.queues, name)
		return
	}
	r.queues[name] = q
}
