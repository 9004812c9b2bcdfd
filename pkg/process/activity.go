package process

import (
	"sync"
	"time"
)

// Activity defaults.
const (
	DefaultActivityWindow  = time.Second
	DefaultActivityHistory = 64
)

type span struct {
	start time.Time
	// end is zero while the syscall is in flight.
	end time.Time
}

// Activity keeps a bounded history of syscall spans and derives how much of
// a recent window a process spent outside the kernel. The figure is a
// diagnostic: spans evicted from the history are forgotten and overlapping
// spans are counted twice before clamping.
type Activity struct {
	mu      sync.Mutex
	window  time.Duration
	history int
	spans   []*span
}

// NewActivity creates an accounting history. Non-positive arguments select
// the defaults.
func NewActivity(window time.Duration, history int) *Activity {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	if history <= 0 {
		history = DefaultActivityHistory
	}
	return &Activity{window: window, history: history}
}

// Begin records a syscall start and returns the func that records its end.
func (a *Activity) Begin(now time.Time) func(end time.Time) {
	s := &span{start: now}

	a.mu.Lock()
	a.spans = append(a.spans, s)
	if over := len(a.spans) - a.history; over > 0 {
		a.spans = append(a.spans[:0:0], a.spans[over:]...)
	}
	a.mu.Unlock()

	return func(end time.Time) {
		a.mu.Lock()
		s.end = end
		a.mu.Unlock()
	}
}

// Userland returns the fraction of the window ending at now that was not
// spent inside a syscall, clamped to [0, 1].
func (a *Activity) Userland(now time.Time) float64 {
	from := now.Add(-a.window)

	a.mu.Lock()
	defer a.mu.Unlock()

	var inKernel time.Duration
	for _, s := range a.spans {
		end := s.end
		if end.IsZero() || end.After(now) {
			end = now
		}
		start := s.start
		if start.Before(from) {
			start = from
		}
		if end.After(start) {
			inKernel += end.Sub(start)
		}
	}

	f := 1 - float64(inKernel)/float64(a.window)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
