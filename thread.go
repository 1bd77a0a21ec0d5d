package rtsim

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/benbjohnson/immutable"

	"github.com/nickbattle/vdmj-sub010/trace"
)

type ThreadState int

const (
	Created ThreadState = iota
	Runnable
	Running
	BlockedOnLock
	BlockedOnGuard
	BlockedOnReply
	Sleeping
	Terminated
)

func (s ThreadState) String() string {
	switch s {
	case Created:
		return "Created"
	case Runnable:
		return "Runnable"
	case Running:
		return "Running"
	case BlockedOnLock:
		return "BlockedOnLock"
	case BlockedOnGuard:
		return "BlockedOnGuard"
	case BlockedOnReply:
		return "BlockedOnReply"
	case Sleeping:
		return "Sleeping"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
}

func (s ThreadState) blocked() bool {
	switch s {
	case BlockedOnLock, BlockedOnGuard, BlockedOnReply, Sleeping:
		return true
	}
	return false
}

// Frame is one entry of a thread's call stack.
type Frame struct {
	Name     string
	Object   uint64
	Class    string
	Location Location
}

// ThreadInfo is a read-only snapshot of a thread, for debuggers.
type ThreadInfo struct {
	ID       uint64
	Name     string
	CPU      string
	State    ThreadState
	Priority int
	Async    bool
	Frames   []Frame
}

// ThreadBody is the code a thread runs.
type ThreadBody func(ctx *Context) error

// Thread is a cooperative unit of control bound to one CPU. Each thread runs
// on its own goroutine, but only the goroutine holding the simulation's baton
// executes; everyone else waits on a channel.
type Thread struct {
	sim      *Simulation
	id       uint64
	name     string
	cpu      *CPU
	priority int
	object   *Object
	body     ThreadBody

	// async marks the short-lived fire-and-forget variant: errors are logged,
	// never returned to anybody.
	async bool
	// local marks the pseudo-thread of EvaluateLocal, which can never block.
	local bool

	state  ThreadState
	atomic int
	resume chan struct{}
	err    error

	frames []Frame
	// measures holds, per measured callable, the values observed down the
	// current recursion; measuring marks a measure under evaluation.
	measures  map[string]*immutable.List[int64]
	measuring map[string]bool
}

func (t *Thread) ID() uint64 { return t.id }
func (t *Thread) Name() string { return t.name }
func (t *Thread) CPU() *CPU { return t.cpu }
func (t *Thread) Priority() int { return t.priority }
func (t *Thread) Object() *Object { return t.object }
func (t *Thread) Async() bool { return t.async }
func (t *Thread) InAtomicSection() bool { return t.atomic > 0 }

// State may be read from any goroutine.
func (t *Thread) State() ThreadState {
	t.sim.threadsLock.Lock()
	defer t.sim.threadsLock.Unlock()
	return t.state
}

// Err is the error the thread's body ended with. Only meaningful once the
// thread has terminated.
func (t *Thread) Err() error {
	t.sim.threadsLock.Lock()
	defer t.sim.threadsLock.Unlock()
	return t.err
}

func (t *Thread) setState(state ThreadState) {
	t.sim.threadsLock.Lock()
	defer t.sim.threadsLock.Unlock()
	t.state = state
}

func (t *Thread) info() ThreadInfo {
	return ThreadInfo{
		ID:       t.id,
		Name:     t.name,
		CPU:      t.cpu.name,
		State:    t.state,
		Priority: t.priority,
		Async:    t.async,
		Frames:   append([]Frame(nil), t.frames...),
	}
}

func (t *Thread) pushFrame(frame Frame) {
	t.sim.threadsLock.Lock()
	defer t.sim.threadsLock.Unlock()
	t.frames = append(t.frames, frame)
}

func (t *Thread) popFrame() {
	t.sim.threadsLock.Lock()
	defer t.sim.threadsLock.Unlock()
	t.frames = t.frames[:len(t.frames)-1]
}

// atomically runs fn with scheduling suppressed. The section is left on
// every path, panics included.
func (t *Thread) atomically(fn func() error) error {
	t.atomic++
	defer func() {
		t.atomic--
	}()
	return fn()
}

// handBack gives the baton to the scheduler and waits to be resumed.
func (t *Thread) handBack() {
	t.sim.baton <- struct{}{}
	<-t.resume
}

// yield is the cooperative yield point. The thread stays its CPU's running
// thread unless a ready thread of higher or equal priority is waiting; either
// way the scheduler gets to serve the other CPUs.
func (t *Thread) yield() error {
	if t.sim.stopping.Load() {
		return t.stopped()
	}
	if t.atomic > 0 || t.local {
		return nil
	}
	if t.cpu.shouldPreempt(t) {
		t.cpu.running = nil
		t.sim.makeRunnable(t)
	}
	t.handBack()
	if t.sim.stopping.Load() {
		return ErrStopped
	}
	return nil
}

// stopped hands the baton back before reporting ErrStopped, so that a body
// ignoring the error still lets the shutdown move on. Atomic sections and
// local evaluation keep running; they have no scheduler to return to.
func (t *Thread) stopped() error {
	if t.atomic == 0 && !t.local {
		t.handBack()
	}
	return ErrStopped
}

// canBlock reports why the thread may not suspend right now, if it may not.
func (t *Thread) canBlock() error {
	switch {
	case t.sim.stopping.Load():
		return t.stopped()
	case t.atomic > 0:
		return ErrBlockInAtomic
	case t.local:
		return ErrNotRunning
	}
	return nil
}

// park suspends the thread in the given blocked state until someone calls
// makeRunnable on it.
func (t *Thread) park(state ThreadState) error {
	if err := t.canBlock(); err != nil {
		return err
	}
	t.setState(state)
	if t.cpu.running == t {
		t.cpu.running = nil
	}
	t.handBack()
	if t.sim.stopping.Load() {
		return ErrStopped
	}
	return nil
}

// main is the goroutine of a thread.
func (t *Thread) main() {
	<-t.resume
	var err error
	if !t.sim.stopping.Load() {
		err = t.runBody()
	}
	t.sim.terminate(t, err)
	t.sim.baton <- struct{}{}
}

func (t *Thread) runBody() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("thread %d (%s) panicked: %w", t.id, t.name, rerr)
			} else {
				err = fmt.Errorf("thread %d (%s) panicked: %v", t.id, t.name, r)
			}
			if t.sim.debug {
				t.sim.logger.Printf("%s", debug.Stack())
			}
		}
	}()
	ctx := &Context{sim: t.sim, thread: t, self: t.object}
	return t.body(ctx)
}

func (sim *Simulation) newThread(cpu *CPU, name string, priority int, obj *Object, body ThreadBody) *Thread {
	sim.nextThreadID++
	t := &Thread{
		sim:       sim,
		id:        sim.nextThreadID,
		name:      name,
		cpu:       cpu,
		priority:  priority,
		object:    obj,
		body:      body,
		state:     Created,
		resume:    make(chan struct{}),
		measures:  make(map[string]*immutable.List[int64]),
		measuring: make(map[string]bool),
	}
	return t
}

// launch registers t, starts its goroutine and makes it runnable.
func (sim *Simulation) launch(t *Thread) {
	sim.threadsLock.Lock()
	sim.threads[t.id] = t
	sim.threadsLock.Unlock()

	var objRef uint64
	var class string
	if t.object != nil {
		objRef, class = t.object.id, t.object.class.Name
	}
	sim.record(trace.Event{
		Kind:      trace.ThreadCreate,
		ThreadID:  t.id,
		Operation: t.name,
		ObjectRef: objRef,
		ClassName: class,
		CPU:       t.cpu.number,
		Async:     t.async,
	})
	go t.main()
	sim.makeRunnable(t)
}

func (sim *Simulation) makeRunnable(t *Thread) {
	switch t.state {
	case Runnable, Terminated:
		return
	}
	t.setState(Runnable)
	t.cpu.enqueue(t)
}

func (sim *Simulation) terminate(t *Thread, err error) {
	sim.threadsLock.Lock()
	t.state = Terminated
	t.err = err
	delete(sim.threads, t.id)
	sim.threadsLock.Unlock()

	if t.cpu.running == t {
		t.cpu.running = nil
	}
	t.cpu.remove(t)
	sim.record(trace.Event{
		Kind:     trace.ThreadKill,
		ThreadID: t.id,
		CPU:      t.cpu.number,
		Async:    t.async,
	})

	if err == nil || errors.Is(err, ErrStopped) {
		return
	}
	if t.async {
		sim.logger.Printf("asynchronous call %s on thread %d failed: %v", t.name, t.id, err)
	} else {
		sim.logger.Printf("thread %d (%s) exited with error: %v", t.id, t.name, err)
	}
}
