package rtsim

import (
	"errors"
	"strings"
	"testing"

	"github.com/nickbattle/vdmj-sub010/trace"
	"github.com/nickbattle/vdmj-sub010/value"
)

var here = Location{Module: "T", Line: 1, Column: 1}

func nonNegative(ctx *Context, env value.Bindings) (bool, error) {
	return env["n"].AsInt() >= 0, nil
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	got, ok := ErrorCode(err)
	if !ok || got != code {
		t.Errorf("Expected error %d, got %v", code, err)
	}
}

func TestEvaluateLocalOperation(t *testing.T) {
	sim := newTestSim(t)
	obj := sim.NewObject(incClass(), nil)
	inc := obj.Class().Operation("inc")

	result, err := sim.EvaluateLocal(here, inc, obj, value.Int(5))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Equal(value.Int(6)) {
		t.Errorf("Expected 6, got %v", result)
	}
	if h := obj.History("inc"); h != (History{Req: 1, Act: 1, Fin: 1}) {
		t.Errorf("Unexpected history %+v", h)
	}
}

func TestArityAndPatternErrors(t *testing.T) {
	sim := newTestSim(t)
	obj := sim.NewObject(incClass(), nil)
	inc := obj.Class().Operation("inc")

	_, err := sim.EvaluateLocal(here, inc, obj)
	expectCode(t, err, CodeArity)
	var arity *ArityError
	if !errors.As(err, &arity) || arity.Expected != 1 || arity.Got != 0 || arity.Location != here {
		t.Errorf("Unexpected arity error %#v", err)
	}

	_, err = sim.EvaluateLocal(here, inc, obj, value.Bool(true))
	expectCode(t, err, CodePatternMatch)
	if !errors.Is(err, value.ErrNoMatch) {
		t.Errorf("Expected a wrapped pattern failure, got %v", err)
	}
}

func TestContractViolations(t *testing.T) {
	never := func(ctx *Context, env value.Bindings, result value.Value) (bool, error) {
		return false, nil
	}
	id := func(ctx *Context, env value.Bindings) (value.Value, error) {
		return env["n"], nil
	}

	tests := []struct {
		name string
		fn   *Function
		arg  int64
		code int
	}{
		{
			name: "precondition",
			fn:   &Function{Name: "f", Params: []value.Pattern{value.Ident("n")}, Pre: nonNegative, Body: id},
			arg:  -1,
			code: CodePrecondition,
		},
		{
			name: "postcondition",
			fn:   &Function{Name: "f", Params: []value.Pattern{value.Ident("n")}, Post: never, Body: id},
			arg:  1,
			code: CodePostcondition,
		},
		{
			name: "negative measure",
			fn: &Function{Name: "f", Params: []value.Pattern{value.Ident("n")}, Body: id,
				Measure: func(ctx *Context, env value.Bindings) (int64, error) { return -1, nil }},
			arg:  1,
			code: CodeMeasure,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sim := newTestSim(t)
			_, err := sim.EvaluateLocal(here, test.fn, nil, value.Int(test.arg))
			expectCode(t, err, test.code)

			off := newTestSim(t, WithContractChecks(ContractChecks{}))
			result, err := off.EvaluateLocal(here, test.fn, nil, value.Int(test.arg))
			if err != nil || !result.Equal(value.Int(test.arg)) {
				t.Errorf("Expected %d without checks, got %v, %v", test.arg, result, err)
			}
		})
	}
}

func TestInvariantViolation(t *testing.T) {
	sim := newTestSim(t)
	class := incClass()
	class.Invariant = func(obj *Object) (bool, error) {
		return obj.Get("n").AsInt() <= 1, nil
	}
	obj := sim.NewObject(class, nil)
	touch := class.Operation("touch")

	if _, err := sim.EvaluateLocal(here, touch, obj, value.Nil()); err != nil {
		t.Fatal(err)
	}
	_, err := sim.EvaluateLocal(here, touch, obj, value.Nil())
	expectCode(t, err, CodeInvariant)
	if h := obj.History("touch"); h.Fin != 2 {
		t.Errorf("Expected completion to be counted on failure, got %+v", h)
	}
}

func TestMeasureMustDecrease(t *testing.T) {
	sim := newTestSim(t)
	var f *Function
	f = &Function{
		Name:   "loop",
		Params: []value.Pattern{value.Typed("n", value.KindInt)},
		Result: value.KindInt,
		Measure: func(ctx *Context, env value.Bindings) (int64, error) {
			return env["n"].AsInt(), nil
		},
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			if len(ctx.Thread().Measures()["loop"]) > 3 {
				return value.Value{}, errors.New("measure did not stop the recursion")
			}
			return ctx.Evaluate(here, f, nil, env["n"])
		},
	}
	_, err := sim.EvaluateLocal(here, f, nil, value.Int(3))
	expectCode(t, err, CodeMeasure)
}

func TestMeasureRecursion(t *testing.T) {
	sim := newTestSim(t)
	var f *Function
	f = &Function{
		Name:   "g",
		Params: []value.Pattern{value.Ident("n")},
		Measure: func(ctx *Context, env value.Bindings) (int64, error) {
			if _, err := ctx.Evaluate(here, f, nil, value.Int(0)); err != nil {
				return 0, err
			}
			return 1, nil
		},
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			return env["n"], nil
		},
	}
	_, err := sim.EvaluateLocal(here, f, nil, value.Int(1))
	expectCode(t, err, CodeMeasureRecursion)
}

func TestRecursionWithDecreasingMeasure(t *testing.T) {
	sim := newTestSim(t)
	var fact *Function
	fact = &Function{
		Name:   "fact",
		Params: []value.Pattern{value.Typed("n", value.KindInt)},
		Result: value.KindInt,
		Pre:    nonNegative,
		Measure: func(ctx *Context, env value.Bindings) (int64, error) {
			return env["n"].AsInt(), nil
		},
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			n := env["n"].AsInt()
			if n == 0 {
				if depth := len(ctx.Thread().Measures()["fact"]); depth != 6 {
					return value.Value{}, errors.New("unexpected recursion depth")
				}
				return value.Int(1), nil
			}
			sub, err := ctx.Evaluate(here, fact, nil, value.Int(n-1))
			if err != nil {
				return value.Value{}, err
			}
			return value.Int(n * sub.AsInt()), nil
		},
	}
	result, err := sim.EvaluateLocal(here, fact, nil, value.Int(5))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Equal(value.Int(120)) {
		t.Errorf("Expected 120, got %v", result)
	}
}

func TestComposedAndIterated(t *testing.T) {
	sim := newTestSim(t)
	succ := &Function{
		Name:   "succ",
		Params: []value.Pattern{value.Typed("x", value.KindInt)},
		Result: value.KindInt,
		Body: intBody(func(ctx *Context, env value.Bindings) int64 {
			return env["x"].AsInt() + 1
		}),
	}
	double := &Function{
		Name:   "double",
		Params: []value.Pattern{value.Typed("x", value.KindInt)},
		Result: value.KindInt,
		Body: intBody(func(ctx *Context, env value.Bindings) int64 {
			return 2 * env["x"].AsInt()
		}),
	}

	tests := []struct {
		callable Callable
		arg      int64
		expected int64
	}{
		{Composed{Outer: double, Inner: succ}, 3, 8},
		{Composed{Outer: succ, Inner: double}, 3, 7},
		{Iterated{Fn: succ, Times: 3}, 1, 4},
		{Iterated{Fn: double, Times: 0}, 5, 5},
	}
	for _, test := range tests {
		result, err := sim.EvaluateLocal(here, test.callable, nil, value.Int(test.arg))
		if err != nil {
			t.Errorf("%s: %v", test.callable.QualifiedName(), err)
			continue
		}
		if !result.Equal(value.Int(test.expected)) {
			t.Errorf("%s(%d) = %v, expected %d", test.callable.QualifiedName(), test.arg, result, test.expected)
		}
	}

	identity, err := sim.EvaluateLocal(here, Iterated{Fn: succ, Times: 0}, nil, value.Bool(true))
	if err != nil || !identity.Equal(value.Bool(true)) {
		t.Errorf("Expected succ ** 0 to return its argument untouched, got %v, %v", identity, err)
	}

	_, err = sim.EvaluateLocal(here, Iterated{Fn: succ, Times: -1}, nil, value.Int(1))
	expectCode(t, err, CodeValue)
}

func TestResultConversion(t *testing.T) {
	sim := newTestSim(t)
	wrong := &Function{
		Name:   "wrong",
		Result: value.KindInt,
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			return value.Bool(true), nil
		},
	}
	_, err := sim.EvaluateLocal(here, wrong, nil)
	expectCode(t, err, CodeValue)
}

func TestRemoteCallCannotBlockLocally(t *testing.T) {
	sim := newTestSim(t)
	cpu := sim.cpu(t, "CPU1", FIFO)
	obj := sim.NewObject(incClass(), cpu)
	caller := &Function{
		Name: "caller",
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			return ctx.Call(obj, "touch", value.Nil())
		},
	}
	_, err := sim.EvaluateLocal(here, caller, nil)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected %v, got %v", ErrNotRunning, err)
	}
	if requests := sim.rec.Events(trace.MessageRequest); len(requests) != 0 {
		t.Errorf("Expected no request to be sent, got %v", requests)
	}

	// the call failed, so touch must never run, not even later
	sim.run(t)
	if n := obj.Get("n").AsInt(); n != 0 {
		t.Errorf("Expected the remote object to be unchanged, got n=%d", n)
	}
	if h := obj.History("touch"); h != (History{}) {
		t.Errorf("Unexpected history of touch %+v", h)
	}
}

func TestBlockingInsideContract(t *testing.T) {
	sim := newTestSim(t)
	cpu := sim.cpu(t, "CPU1", FIFO)
	f := &Function{
		Name: "f",
		Pre: func(ctx *Context, env value.Bindings) (bool, error) {
			return true, ctx.Duration(Millisecond)
		},
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			return value.Void(), nil
		},
	}
	var evalErr error
	sim.Spawn(cpu, "T", 1, func(ctx *Context) error {
		_, evalErr = ctx.Evaluate(here, f, nil)
		if ctx.Thread().InAtomicSection() {
			return errors.New("atomic section leaked")
		}
		return nil
	})
	sim.run(t)
	if !errors.Is(evalErr, ErrBlockInAtomic) {
		t.Errorf("Expected %v, got %v", ErrBlockInAtomic, evalErr)
	}
	if strings.Contains(sim.out.String(), "atomic section leaked") {
		t.Errorf("atomic section was not left: %s", sim.out.String())
	}
}

func TestRemoteCallInsideContract(t *testing.T) {
	sim := newTestSim(t)
	cpuA := sim.cpu(t, "A", FIFO)
	cpuB := sim.cpu(t, "B", FIFO)
	sim.bus(t, "AB", 1000, cpuA, cpuB)
	remote := sim.NewObject(incClass(), cpuB)
	f := &Function{
		Name: "f",
		Pre: func(ctx *Context, env value.Bindings) (bool, error) {
			_, err := ctx.Call(remote, "touch", value.Nil())
			return true, err
		},
		Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
			return value.Void(), nil
		},
	}
	var evalErr error
	sim.Spawn(cpuA, "T", 1, func(ctx *Context) error {
		_, evalErr = ctx.Evaluate(here, f, nil)
		return nil
	})
	sim.run(t)

	if !errors.Is(evalErr, ErrBlockInAtomic) {
		t.Errorf("Expected %v, got %v", ErrBlockInAtomic, evalErr)
	}
	if n := remote.Get("n").AsInt(); n != 0 {
		t.Errorf("Expected the remote object to be unchanged, got n=%d", n)
	}
	if counters, ok := sim.Counters()["C`touch"]; ok {
		t.Errorf("Expected touch never to be requested, got %+v", counters)
	}
	if requests := sim.rec.Events(trace.MessageRequest); len(requests) != 0 {
		t.Errorf("Expected no request to be sent, got %v", requests)
	}
}

func TestAsyncErrorIsLogged(t *testing.T) {
	sim := newTestSim(t)
	cpu := sim.cpu(t, "CPU1", FIFO)
	class := incClass()
	class.Operations = append(class.Operations, &OperationDef{
		Name:   "add",
		Params: []value.Pattern{value.Typed("n", value.KindInt)},
		Result: value.KindVoid,
		Async:  true,
		Pre:    nonNegative,
	})
	obj := sim.NewObject(class, cpu)

	var result value.Value
	var callErr error
	sim.Spawn(cpu, "caller", 1, func(ctx *Context) error {
		result, callErr = ctx.Evaluate(here, class.Operation("add"), obj, value.Int(-1))
		return nil
	})
	sim.run(t)

	if callErr != nil || !result.IsVoid() {
		t.Errorf("Expected an immediate void return, got %v, %v", result, callErr)
	}
	logged := sim.out.String()
	if !strings.Contains(logged, "asynchronous call C`add") || !strings.Contains(logged, "precondition") {
		t.Errorf("Expected the failure of add to be logged, got %q", logged)
	}
}

func TestEvaluateLocalDuringRun(t *testing.T) {
	sim := newTestSim(t)
	cpu := sim.cpu(t, "CPU1", FIFO)
	obj := sim.NewObject(incClass(), cpu)
	var localErr, runErr, declareErr error
	sim.Spawn(cpu, "T", 1, func(ctx *Context) error {
		_, localErr = sim.EvaluateLocal(here, obj.Class().Operation("inc"), obj, value.Int(1))
		runErr = sim.Run()
		_, declareErr = sim.DeclareCPU("CPU2", FIFO)
		return nil
	})
	sim.run(t)
	for _, err := range []error{localErr, runErr, declareErr} {
		if !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("Expected %v, got %v", ErrAlreadyRunning, err)
		}
	}
}

func TestCountersAfterErrorExits(t *testing.T) {
	failing := errors.New("guard failed")
	tests := []struct {
		name     string
		op       *OperationDef
		guard    Guard
		arg      value.Value
		history  History
		counters ActivationCounters
	}{
		{
			name: "pattern mismatch",
			op:   &OperationDef{Name: "op", Params: []value.Pattern{value.Literal(value.Int(1))}, Result: value.KindVoid},
			arg:  value.Int(2),
		},
		{
			name:     "failing precondition",
			op:       &OperationDef{Name: "op", Params: []value.Pattern{value.Typed("n", value.KindInt)}, Result: value.KindVoid, Pre: nonNegative},
			arg:      value.Int(-1),
			history:  History{Req: 1, Act: 1, Fin: 1},
			counters: ActivationCounters{Requested: 1, Activated: 1, Completed: 1},
		},
		{
			name: "guard error",
			op:   &OperationDef{Name: "op", Params: []value.Pattern{value.Ident("x")}, Result: value.KindVoid},
			guard: Permission(func(gc GuardContext) (bool, error) {
				return false, failing
			}),
			arg: value.Nil(),
		},
		{
			name: "body error",
			op: &OperationDef{
				Name:   "op",
				Params: []value.Pattern{value.Ident("x")},
				Result: value.KindVoid,
				Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
					return value.Value{}, errors.New("boom")
				},
			},
			arg:      value.Nil(),
			history:  History{Req: 1, Act: 1, Fin: 1},
			counters: ActivationCounters{Requested: 1, Activated: 1, Completed: 1},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sim := newTestSim(t)
			class := &ClassDef{Name: "E", Operations: []*OperationDef{test.op}}
			if test.guard != nil {
				class.Permissions = map[string]Guard{"op": test.guard}
			}
			obj := sim.NewObject(class, nil)

			if _, err := sim.EvaluateLocal(here, class.Operation("op"), obj, test.arg); err == nil {
				t.Fatal("Expected the call to fail")
			}
			h := obj.History("op")
			if h != test.history {
				t.Errorf("Expected history %+v, got %+v", test.history, h)
			}
			if h.Waiting() != 0 || h.Active() != 0 {
				t.Errorf("Expected nothing waiting or active, got %d waiting, %d active", h.Waiting(), h.Active())
			}
			if counters := sim.Counters()["E`op"]; counters != test.counters {
				t.Errorf("Expected counters %+v, got %+v", test.counters, counters)
			}
		})
	}
}
