package rtsim

import (
	"fmt"

	"github.com/nickbattle/vdmj-sub010/value"
)

// Callable is anything that can be applied to arguments: a *Function, a
// Composed or Iterated function, or an *OperationDef. Evaluation dispatches
// on the concrete variant.
type Callable interface {
	QualifiedName() string
	isCallable()
}

// Body is the code of a function or operation. env holds the parameter
// bindings.
type Body func(ctx *Context, env value.Bindings) (value.Value, error)

// Function is a side-effect free function with optional contracts.
type Function struct {
	Name     string
	Module   string
	Params   []value.Pattern
	Result   value.Kind
	Pre      func(ctx *Context, env value.Bindings) (bool, error)
	Post     func(ctx *Context, env value.Bindings, result value.Value) (bool, error)
	Measure  func(ctx *Context, env value.Bindings) (int64, error)
	Body     Body
	Location Location
}

func (fn *Function) QualifiedName() string {
	if fn.Module == "" {
		return fn.Name
	}
	return fn.Module + "`" + fn.Name
}

func (*Function) isCallable() {}

// Composed is Outer comp Inner: Inner is applied to the arguments, Outer to
// its result.
type Composed struct {
	Outer, Inner Callable
}

func (c Composed) QualifiedName() string {
	return c.Outer.QualifiedName() + " comp " + c.Inner.QualifiedName()
}

func (Composed) isCallable() {}

// Iterated is Fn ** Times: Fn applied Times times to its own result.
// Fn ** 0 is the identity: its argument comes back as is, never matched
// against Fn's parameters.
type Iterated struct {
	Fn    Callable
	Times int
}

func (it Iterated) QualifiedName() string {
	return fmt.Sprintf("%s ** %d", it.Fn.QualifiedName(), it.Times)
}

func (Iterated) isCallable() {}

// evaluate applies c to args on thread t.
func (sim *Simulation) evaluate(t *Thread, loc Location, c Callable, self *Object, args []value.Value, async bool) (value.Value, error) {
	switch c := c.(type) {
	case *OperationDef:
		return sim.callOperation(t, loc, c, self, args, async)
	case *Function:
		return sim.applyFunction(t, loc, c, self, args)
	case Composed:
		inner, err := sim.evaluate(t, loc, c.Inner, self, args, false)
		if err != nil {
			return value.Value{}, err
		}
		return sim.evaluate(t, loc, c.Outer, self, []value.Value{inner}, false)
	case Iterated:
		if c.Times < 0 {
			return value.Value{}, fmt.Errorf("%w: cannot iterate %s a negative number of times", value.ErrValue, c.Fn.QualifiedName())
		}
		if len(args) != 1 {
			return value.Value{}, &ArityError{Location: loc, Callable: c.QualifiedName(), Expected: 1, Got: len(args)}
		}
		result := args[0]
		for i := 0; i < c.Times; i++ {
			var err error
			result, err = sim.evaluate(t, loc, c.Fn, self, []value.Value{result}, false)
			if err != nil {
				return value.Value{}, err
			}
		}
		return result, nil
	default:
		return value.Value{}, fmt.Errorf("%w: %T is not callable", value.ErrValue, c)
	}
}

func bindParams(loc Location, name string, params []value.Pattern, args []value.Value) (value.Bindings, error) {
	if len(args) != len(params) {
		return nil, &ArityError{Location: loc, Callable: name, Expected: len(params), Got: len(args)}
	}
	env := make(value.Bindings, len(params))
	for i, param := range params {
		if err := param.Match(args[i], env); err != nil {
			return nil, &PatternMatchError{Location: loc, Callable: name, Err: err}
		}
	}
	return env, nil
}

func (sim *Simulation) applyFunction(t *Thread, loc Location, fn *Function, self *Object, args []value.Value) (result value.Value, err error) {
	name := fn.QualifiedName()
	env, err := bindParams(loc, name, fn.Params, args)
	if err != nil {
		return value.Value{}, err
	}
	ctx := &Context{sim: sim, thread: t, self: self}

	t.pushFrame(Frame{Name: name, Location: fn.Location})
	defer t.popFrame()

	if fn.Pre != nil && sim.checks.Pre {
		if err := sim.checkContract(t, loc, Precondition, name, func() (bool, error) {
			return fn.Pre(ctx, env)
		}); err != nil {
			return value.Value{}, err
		}
	}
	if fn.Measure != nil && sim.checks.Measure {
		pop, err := t.pushMeasure(loc, name, func() (int64, error) {
			return fn.Measure(ctx, env)
		})
		if err != nil {
			return value.Value{}, err
		}
		defer pop()
	}

	result, err = fn.Body(ctx, env)
	if err != nil {
		return value.Value{}, err
	}
	if result, err = value.Convert(result, fn.Result); err != nil {
		return value.Value{}, err
	}

	if fn.Post != nil && sim.checks.Post {
		if err := sim.checkContract(t, loc, Postcondition, name, func() (bool, error) {
			return fn.Post(ctx, env, result)
		}); err != nil {
			return value.Value{}, err
		}
	}
	return result, nil
}
