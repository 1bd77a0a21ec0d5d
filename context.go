package rtsim

import (
	"fmt"

	"github.com/nickbattle/vdmj-sub010/value"
)

// Context is what running code sees of the simulation: the current thread,
// the object it runs on, and the blocking primitives. A Context must only
// be used by the thread it was handed to.
type Context struct {
	sim    *Simulation
	thread *Thread
	self   *Object
}

func (ctx *Context) Simulation() *Simulation { return ctx.sim }
func (ctx *Context) Thread() *Thread { return ctx.thread }
func (ctx *Context) Self() *Object { return ctx.self }
func (ctx *Context) Now() Time { return ctx.sim.clock.Now() }

// Get reads an instance variable of self.
func (ctx *Context) Get(name string) value.Value {
	return ctx.self.Get(name)
}

// Set writes an instance variable of self, waking threads whose guards read
// it.
func (ctx *Context) Set(name string, v value.Value) {
	ctx.self.Set(name, v)
}

// Evaluate applies callable to args. Operations are dispatched by where self
// is deployed; a remote synchronous call blocks for the whole round trip.
func (ctx *Context) Evaluate(loc Location, callable Callable, self *Object, args ...value.Value) (value.Value, error) {
	return ctx.sim.evaluate(ctx.thread, loc, callable, self, args, false)
}

// EvaluateAsync applies callable without waiting for its result.
// Operations return value.Void() immediately; functions, being pure, are
// simply evaluated.
func (ctx *Context) EvaluateAsync(loc Location, callable Callable, self *Object, args ...value.Value) (value.Value, error) {
	return ctx.sim.evaluate(ctx.thread, loc, callable, self, args, true)
}

// Call calls the operation named op of obj.
func (ctx *Context) Call(obj *Object, op string, args ...value.Value) (value.Value, error) {
	def, err := lookupOperation(obj, op)
	if err != nil {
		return value.Value{}, err
	}
	return ctx.sim.callOperation(ctx.thread, Location{}, def, obj, args, false)
}

// CallAsync calls the operation named op of obj and returns at once. Errors
// raised by the operation are logged, not returned.
func (ctx *Context) CallAsync(obj *Object, op string, args ...value.Value) error {
	def, err := lookupOperation(obj, op)
	if err != nil {
		return err
	}
	_, err = ctx.sim.callOperation(ctx.thread, Location{}, def, obj, args, true)
	return err
}

func lookupOperation(obj *Object, op string) (*OperationDef, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: call of %s on a nil object", value.ErrValue, op)
	}
	def := obj.class.Operation(op)
	if def == nil {
		return nil, fmt.Errorf("%w: class %s has no operation %s", value.ErrValue, obj.class.Name, op)
	}
	return def, nil
}

// Yield is an explicit cooperative yield point.
func (ctx *Context) Yield() error {
	return ctx.thread.yield()
}

// Duration lets d of simulated time pass. The CPU is free meanwhile.
func (ctx *Context) Duration(d Time) error {
	return ctx.thread.sleep(d)
}

// Cycles lets n cycles of the thread's CPU pass.
func (ctx *Context) Cycles(n int64) error {
	return ctx.thread.sleep(ctx.thread.cpu.cycles(n))
}

// New creates an object on the calling thread's CPU.
func (ctx *Context) New(class *ClassDef) *Object {
	return ctx.sim.NewObject(class, ctx.thread.cpu)
}

// sleep parks the thread until the clock reaches now + d.
func (t *Thread) sleep(d Time) error {
	if d <= 0 {
		return t.yield()
	}
	if err := t.canBlock(); err != nil {
		return err
	}
	sim := t.sim
	sim.clock.schedule(sim.clock.Now()+d, func() {
		if t.state == Sleeping {
			sim.makeRunnable(t)
		}
	})
	return t.park(Sleeping)
}

// Start starts the thread of obj: the class's Thread body, or the loop of
// its Periodic definition.
func (sim *Simulation) Start(obj *Object) (*Thread, error) {
	class := obj.class
	if obj.started {
		return nil, fmt.Errorf("thread of %v already started", obj)
	}
	var body ThreadBody
	name := class.Name + "`thread"
	priority := obj.cpu.priorityOf(class.Name, "thread")
	switch {
	case class.Thread != nil && class.Periodic != nil:
		return nil, fmt.Errorf("class %s has both a thread and a periodic definition", class.Name)
	case class.Thread != nil:
		body = class.Thread
	case class.Periodic != nil:
		periodic := class.Periodic
		op := class.Operation(periodic.Operation)
		if op == nil {
			return nil, fmt.Errorf("periodic thread of %s names unknown operation %s", class.Name, periodic.Operation)
		}
		if periodic.Period <= 0 {
			return nil, fmt.Errorf("periodic thread of %s has period %d", class.Name, periodic.Period)
		}
		priority = obj.cpu.priorityOf(class.Name, op.Name)
		body = periodicBody(periodic, op, obj)
	default:
		return nil, fmt.Errorf("class %s has no thread", class.Name)
	}
	obj.started = true
	t := sim.newThread(obj.cpu, name, priority, obj, body)
	sim.launch(t)
	return t, nil
}

func periodicBody(periodic *PeriodicDef, op *OperationDef, obj *Object) ThreadBody {
	return func(ctx *Context) error {
		next := ctx.Now() + periodic.Offset
		for {
			if err := ctx.Duration(next - ctx.Now()); err != nil {
				return err
			}
			if _, err := ctx.sim.callOperation(ctx.thread, op.Location, op, obj, periodic.Args, false); err != nil {
				return err
			}
			next += periodic.Period
		}
	}
}

// Spawn starts a free-standing thread on cpu, or on the virtual CPU when cpu
// is nil.
func (sim *Simulation) Spawn(cpu *CPU, name string, priority int, body ThreadBody) *Thread {
	if cpu == nil {
		cpu = sim.virtualCPU
	}
	t := sim.newThread(cpu, name, priority, nil, body)
	sim.launch(t)
	return t
}

// EvaluateLocal evaluates callable on the caller's goroutine, before or
// between runs, for initialisation. Nothing may block: a call that would
// wait for a guard or a reply fails with ErrNotRunning.
func (sim *Simulation) EvaluateLocal(loc Location, callable Callable, self *Object, args ...value.Value) (value.Value, error) {
	if !sim.running.CompareAndSwap(false, true) {
		return value.Value{}, ErrAlreadyRunning
	}
	defer sim.running.Store(false)
	defer sim.events.Flush()

	cpu := sim.virtualCPU
	if self != nil {
		cpu = self.cpu
	}
	t := sim.newThread(cpu, "local", cpu.defaultPriority, self, nil)
	t.local = true
	t.state = Running
	return sim.evaluate(t, loc, callable, self, args, false)
}
