package rtsim

import (
	"github.com/nickbattle/vdmj-sub010/trace"
)

const maxUnwindResumes = 64

// Run drives the simulation until no thread is left, the time limit is
// reached, Stop is called or the model deadlocks.
//
// Each step gives every CPU, in declaration order, one slice: its running
// thread (or the head of its ready queue) executes until its next
// suspension point. Only when no CPU has anything to run does the clock
// jump to the earliest pending bus arrival or timed wait.
//
// A deadlock is reported as a *DeadlockError; the blocked threads are
// unwound before Run returns.
func (sim *Simulation) Run() (err error) {
	if !sim.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer sim.running.Store(false)
	defer func() {
		if flusher, ok := sim.events.Recorder.(trace.Flusher); ok {
			if flushErr := flusher.Flush(); flushErr != nil {
				sim.logger.Printf("error flushing trace recorder: %v", flushErr)
			}
		}
	}()

	for {
		if sim.stopping.Load() {
			sim.shutdown()
			return nil
		}

		progressed, held := sim.step()
		sim.events.Flush()
		if progressed {
			continue
		}
		if held {
			// everything runnable is withheld by the step hook
			<-sim.wake
			continue
		}

		if at, ok := sim.clock.next(); ok {
			if sim.timeLimit > 0 && at > sim.timeLimit {
				sim.debugf("time limit %d reached", sim.timeLimit)
				sim.stopping.Store(true)
				continue
			}
			due := sim.clock.advance()
			sim.debugf("clock advanced to %d, %d events due", sim.clock.Now(), len(due))
			for _, ev := range due {
				ev.fire()
			}
			continue
		}

		live := sim.liveThreads()
		if len(live) == 0 {
			return nil
		}
		deadlock := &DeadlockError{Time: sim.clock.Now()}
		for _, t := range live {
			deadlock.Blocked = append(deadlock.Blocked, t.info())
		}
		sim.logger.Printf("%v", deadlock)
		sim.stopping.Store(true)
		sim.shutdown()
		return deadlock
	}
}

// step serves each CPU once. It reports whether any thread ran, and whether
// some runnable thread was withheld by the step hook.
func (sim *Simulation) step() (progressed, held bool) {
	for _, cpu := range sim.cpus {
		if sim.stopping.Load() {
			return true, false
		}
		t := cpu.running
		if t == nil {
			t = cpu.head()
			if t == nil {
				continue
			}
		}
		if sim.mayProceed != nil && !sim.mayProceed(t.info()) {
			held = true
			continue
		}
		if cpu.running == nil {
			cpu.pop()
			cpu.running = t
			t.setState(Running)
			sim.debugf("%s: swapping in thread %d (%s)", cpu.name, t.id, t.name)
			sim.record(trace.Event{
				Kind:     trace.ThreadSwapIn,
				ThreadID: t.id,
				CPU:      cpu.number,
				Async:    t.async,
			})
		}
		sim.resume(t)
		progressed = true
	}
	return progressed, held
}

// resume passes the baton to t and waits until it comes back.
func (sim *Simulation) resume(t *Thread) {
	t.resume <- struct{}{}
	<-sim.baton
}

// shutdown flushes the queued trace events, then unwinds every remaining
// thread in id order. Resumed threads see the stopping flag at their
// suspension point and return ErrStopped; threads that never ran skip their
// body. A thread still alive after maxUnwindResumes resumes keeps ignoring
// ErrStopped; it is abandoned, its goroutine left parked for good.
func (sim *Simulation) shutdown() {
	sim.events.Flush()
	sim.events.Suppress()
	resumes := make(map[uint64]int)
	for {
		live := sim.liveThreads()
		if len(live) == 0 {
			return
		}
		for _, t := range live {
			if t.State() == Terminated {
				continue
			}
			if resumes[t.id] >= maxUnwindResumes {
				sim.logger.Printf("thread %d (%s) does not stop, abandoning it", t.id, t.name)
				sim.terminate(t, ErrStopped)
				continue
			}
			resumes[t.id]++
			sim.resume(t)
		}
	}
}
