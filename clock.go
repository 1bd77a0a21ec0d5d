package rtsim

import (
	"container/heap"
	"strconv"
)

// Time is simulated time in nanoseconds. It never relates to the wall clock.
type Time int64

const (
	Nanosecond  Time = 1
	Microsecond      = 1000 * Nanosecond
	Millisecond      = 1000 * Microsecond
	Second           = 1000 * Millisecond
)

func (t Time) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// pendingEvent is something that happens at a future instant: a bus arrival
// or the end of a timed wait.
type pendingEvent struct {
	at   Time
	seq  uint64
	fire func()
}

// eventQueue orders events by time, then by scheduling order.
type eventQueue []*pendingEvent

var _ heap.Interface = &eventQueue{}

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x interface{}) {
	*q = append(*q, x.(*pendingEvent))
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (q eventQueue) peek() *pendingEvent {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// VirtualClock is the monotonic simulated clock of one simulation together
// with its pending events. Only the scheduler moves it.
type VirtualClock struct {
	now     Time
	seq     uint64
	pending eventQueue
}

func (clock *VirtualClock) Now() Time {
	return clock.now
}

// schedule registers fire to run when the clock reaches at. Events in the
// past run at the next advance.
func (clock *VirtualClock) schedule(at Time, fire func()) {
	if at < clock.now {
		at = clock.now
	}
	clock.seq++
	heap.Push(&clock.pending, &pendingEvent{at: at, seq: clock.seq, fire: fire})
}

// next reports the time of the earliest pending event.
func (clock *VirtualClock) next() (Time, bool) {
	ev := clock.pending.peek()
	if ev == nil {
		return 0, false
	}
	return ev.at, true
}

// advance jumps to the earliest pending event and removes every event due at
// that instant, in scheduling order.
func (clock *VirtualClock) advance() []*pendingEvent {
	at, ok := clock.next()
	if !ok {
		return nil
	}
	clock.now = at
	var due []*pendingEvent
	for len(clock.pending) > 0 && clock.pending.peek().at == at {
		due = append(due, heap.Pop(&clock.pending).(*pendingEvent))
	}
	return due
}

func (clock *VirtualClock) hasPending() bool {
	return len(clock.pending) > 0
}
