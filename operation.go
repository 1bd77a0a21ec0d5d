package rtsim

import (
	"fmt"

	"github.com/nickbattle/vdmj-sub010/trace"
	"github.com/nickbattle/vdmj-sub010/value"
)

// OperationDef is an operation of a class. Its body may change the state of
// the object it runs on and may block.
type OperationDef struct {
	Name    string
	Params  []value.Pattern
	Result  value.Kind
	Pre     func(ctx *Context, env value.Bindings) (bool, error)
	Post    func(ctx *Context, env value.Bindings, result value.Value) (bool, error)
	Measure func(ctx *Context, env value.Bindings) (int64, error)
	Body    Body
	// Async operations always return immediately to their caller.
	Async bool
	// Static operations run on the caller's CPU, without an object.
	Static   bool
	Location Location

	class *ClassDef
	guard Guard
}

func (op *OperationDef) QualifiedName() string {
	if op.class == nil {
		return op.Name
	}
	return op.class.Name + "`" + op.Name
}

func (*OperationDef) isCallable() {}

// callOperation dispatches a call of op on obj. Same-CPU synchronous calls
// run on the calling thread; same-CPU asynchronous calls get their own
// thread; anything else is sent over the bus connecting the two CPUs.
func (sim *Simulation) callOperation(t *Thread, loc Location, op *OperationDef, obj *Object, args []value.Value, async bool) (value.Value, error) {
	if len(args) != len(op.Params) {
		return value.Value{}, &ArityError{Location: loc, Callable: op.QualifiedName(), Expected: len(op.Params), Got: len(args)}
	}
	if obj == nil && !op.Static {
		return value.Value{}, fmt.Errorf("%w: operation %s called without an object", value.ErrValue, op.QualifiedName())
	}
	// every call is a yield point
	if err := t.yield(); err != nil {
		return value.Value{}, err
	}
	async = async || op.Async

	if op.Static || obj.cpu == t.cpu {
		if !async {
			return sim.invokeLocal(t, loc, op, obj, args)
		}
		sim.spawnAsync(t.cpu, loc, op, obj, args)
		return value.Void(), nil
	}

	// a reply nobody can wait for must not be asked for
	if !async {
		if err := t.canBlock(); err != nil {
			return value.Value{}, err
		}
	}
	bus, err := sim.Lookup(t.cpu, obj.cpu)
	if err != nil {
		if route, ok := err.(*RouteNotFoundError); ok {
			route.Location = loc
		}
		return value.Value{}, err
	}
	msg, err := sim.newRequest(t, loc, bus, obj, op, args, async)
	if err != nil {
		return value.Value{}, err
	}
	if _, err := bus.Transmit(msg); err != nil {
		return value.Value{}, err
	}
	if async {
		return value.Void(), nil
	}
	return msg.Reply.await(t)
}

// invokeLocal runs op on obj on thread t: parameter binding, history and
// activation counting, the guard, the precondition, the measure, the body,
// result conversion, the postcondition and the class invariant. Contracts
// are checked in atomic sections. Once activated, completion is counted on
// every exit; a request that never activates is withdrawn.
func (sim *Simulation) invokeLocal(t *Thread, loc Location, op *OperationDef, obj *Object, args []value.Value) (result value.Value, err error) {
	name := op.QualifiedName()
	env, err := bindParams(loc, name, op.Params, args)
	if err != nil {
		return value.Value{}, err
	}

	counters := sim.counter(name)
	counters.Requested++
	if obj != nil {
		obj.countRequest(op.Name)
	}
	sim.recordOperation(trace.Request, t, obj, op)

	frame := Frame{Name: name, Location: op.Location}
	if obj != nil {
		frame.Object, frame.Class = obj.id, obj.class.Name
	}
	t.pushFrame(frame)
	defer t.popFrame()

	if obj != nil {
		if err := sim.activate(t, obj, op); err != nil {
			counters.Requested--
			obj.withdrawRequest(op.Name)
			return value.Value{}, err
		}
	} else {
		sim.recordOperation(trace.Activate, t, obj, op)
	}
	counters.Activated++
	defer func() {
		counters.Completed++
		if obj != nil {
			obj.countFinish(op.Name)
		}
		sim.recordOperation(trace.Complete, t, obj, op)
	}()

	ctx := &Context{sim: sim, thread: t, self: obj}
	if op.Pre != nil && sim.checks.Pre {
		if err := sim.checkContract(t, loc, Precondition, name, func() (bool, error) {
			return op.Pre(ctx, env)
		}); err != nil {
			return value.Value{}, err
		}
	}
	if op.Measure != nil && sim.checks.Measure {
		pop, err := t.pushMeasure(loc, name, func() (int64, error) {
			return op.Measure(ctx, env)
		})
		if err != nil {
			return value.Value{}, err
		}
		defer pop()
	}

	if op.Body != nil {
		result, err = op.Body(ctx, env)
		if err != nil {
			return value.Value{}, err
		}
	} else {
		result = value.Void()
	}
	if result, err = value.Convert(result, op.Result); err != nil {
		return value.Value{}, err
	}

	if op.Post != nil && sim.checks.Post {
		if err := sim.checkContract(t, loc, Postcondition, name, func() (bool, error) {
			return op.Post(ctx, env, result)
		}); err != nil {
			return value.Value{}, err
		}
	}
	if obj != nil && obj.class.Invariant != nil && sim.checks.Inv {
		if err := sim.checkContract(t, loc, Invariant, obj.class.Name, func() (bool, error) {
			return obj.class.Invariant(obj)
		}); err != nil {
			return value.Value{}, err
		}
	}
	return result, nil
}

func (sim *Simulation) recordOperation(kind trace.Kind, t *Thread, obj *Object, op *OperationDef) {
	event := trace.Event{
		Kind:      kind,
		ThreadID:  t.id,
		Operation: op.QualifiedName(),
		CPU:       t.cpu.number,
		Async:     t.async,
	}
	if obj != nil {
		event.ObjectRef, event.ClassName = obj.id, obj.class.Name
	}
	sim.record(event)
}

func (sim *Simulation) priorityFor(cpu *CPU, obj *Object, op *OperationDef) int {
	if obj == nil {
		return cpu.defaultPriority
	}
	return cpu.priorityOf(obj.class.Name, op.Name)
}

// spawnAsync starts the short-lived thread of a same-CPU asynchronous call.
// Its errors are logged when it terminates, never returned.
func (sim *Simulation) spawnAsync(cpu *CPU, loc Location, op *OperationDef, obj *Object, args []value.Value) *Thread {
	constants := make([]value.Value, len(args))
	for i, arg := range args {
		constants[i] = value.Constant(arg)
	}
	t := sim.newThread(cpu, op.QualifiedName(), sim.priorityFor(cpu, obj, op), obj, func(ctx *Context) error {
		_, err := sim.invokeLocal(ctx.thread, loc, op, obj, constants)
		return err
	})
	t.async = true
	sim.launch(t)
	return t
}

// handleRequest runs an arriving request on a new thread of the destination
// CPU. A synchronous request gets exactly one response, carrying the result
// or the error of the call.
func (sim *Simulation) handleRequest(msg *Message) {
	cpu, obj, op := msg.To, msg.Target, msg.Operation
	t := sim.newThread(cpu, op.QualifiedName(), sim.priorityFor(cpu, obj, op), obj, func(ctx *Context) (err error) {
		var result value.Value
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("operation %s panicked: %v", op.QualifiedName(), r)
			}
			if msg.Reply != nil {
				sim.reply(msg, result, err)
				err = nil
			}
		}()
		result, err = sim.invokeLocal(ctx.thread, msg.Location, op, obj, msg.Args)
		return err
	})
	t.async = msg.Async
	sim.launch(t)
}

func (sim *Simulation) reply(request *Message, result value.Value, err error) {
	if sim.stopping.Load() {
		return
	}
	response := sim.newResponse(request, result, err)
	if _, err := request.Bus.Transmit(response); err != nil {
		sim.logger.Printf("could not send response to message %d: %v", request.ID, err)
	}
}
