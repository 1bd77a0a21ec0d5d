package rtsim

import "testing"

func TestClockOrdering(t *testing.T) {
	var clock VirtualClock
	var fired []string
	schedule := func(at Time, name string) {
		clock.schedule(at, func() {
			fired = append(fired, name)
		})
	}
	schedule(20, "c")
	schedule(10, "a")
	schedule(10, "b")
	schedule(30, "d")

	for _, expected := range []struct {
		now   Time
		count int
	}{{10, 2}, {20, 1}, {30, 1}} {
		due := clock.advance()
		if clock.Now() != expected.now || len(due) != expected.count {
			t.Fatalf("Expected %d events at %d, got %d at %d", expected.count, expected.now, len(due), clock.Now())
		}
		for _, ev := range due {
			ev.fire()
		}
	}
	if clock.hasPending() {
		t.Errorf("Expected no pending events")
	}
	if got := fired; len(got) != 4 || got[0] != "a" || got[1] != "b" || got[2] != "c" || got[3] != "d" {
		t.Errorf("Unexpected firing order %v", got)
	}
	if due := clock.advance(); due != nil || clock.Now() != 30 {
		t.Errorf("advance without events must not move the clock")
	}
}

func TestClockClampsPast(t *testing.T) {
	var clock VirtualClock
	clock.schedule(50, func() {})
	clock.advance()
	clock.schedule(10, func() {})
	at, ok := clock.next()
	if !ok || at != 50 {
		t.Errorf("Expected past event to be due now (50), got %d", at)
	}
}
