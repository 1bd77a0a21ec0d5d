package rtsim

import (
	"bytes"
	"log"
	"testing"

	"github.com/nickbattle/vdmj-sub010/trace"
	"github.com/nickbattle/vdmj-sub010/value"
)

type testSim struct {
	*Simulation
	rec *trace.MemoryRecorder
	out *bytes.Buffer
}

func newTestSim(t *testing.T, opts ...SimulationOption) testSim {
	t.Helper()
	rec := &trace.MemoryRecorder{}
	out := &bytes.Buffer{}
	sim := NewSimulation(append([]SimulationOption{
		WithRecorder(rec),
		WithLogger(log.New(out, "", 0)),
	}, opts...)...)
	t.Cleanup(func() {
		if err := sim.Close(); err != nil {
			t.Errorf("closing simulation: %v", err)
		}
	})
	return testSim{Simulation: sim, rec: rec, out: out}
}

func (ts testSim) cpu(t *testing.T, name string, policy Policy) *CPU {
	t.Helper()
	cpu, err := ts.DeclareCPU(name, policy)
	if err != nil {
		t.Fatal(err)
	}
	return cpu
}

func (ts testSim) bus(t *testing.T, name string, rate int64, cpus ...*CPU) *Bus {
	t.Helper()
	bus, err := ts.DeclareBus(name, rate, cpus...)
	if err != nil {
		t.Fatal(err)
	}
	return bus
}

func (ts testSim) run(t *testing.T) {
	t.Helper()
	if err := ts.Run(); err != nil {
		t.Fatal(err)
	}
}

func intBody(fn func(ctx *Context, env value.Bindings) int64) Body {
	return func(ctx *Context, env value.Bindings) (value.Value, error) {
		return value.Int(fn(ctx, env)), nil
	}
}

// incClass has inc(x) = x + 1 and a variable bumped by touch.
func incClass() *ClassDef {
	return &ClassDef{
		Name: "C",
		Variables: []VariableDef{
			{Name: "n", Init: value.Int(0)},
		},
		Operations: []*OperationDef{
			{
				Name:   "inc",
				Params: []value.Pattern{value.Typed("x", value.KindInt)},
				Result: value.KindInt,
				Body: intBody(func(ctx *Context, env value.Bindings) int64 {
					return env["x"].AsInt() + 1
				}),
			},
			{
				Name:   "touch",
				Params: []value.Pattern{value.Ident("x")},
				Result: value.KindVoid,
				Body: func(ctx *Context, env value.Bindings) (value.Value, error) {
					ctx.Set("n", value.Int(ctx.Get("n").AsInt()+1))
					return value.Void(), nil
				},
			},
		},
	}
}
