package models

import (
	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/value"
)

const (
	SamplePeriod = 10 * rtsim.Millisecond
	PollPeriod   = 25 * rtsim.Millisecond
)

// Sensor samples periodically; every sample raises its reading by one.
func Sensor() *rtsim.ClassDef {
	return &rtsim.ClassDef{
		Name: "Sensor",
		Variables: []rtsim.VariableDef{
			{Name: "reading", Init: value.Int(0)},
		},
		Operations: []*rtsim.OperationDef{
			{
				Name:   "sample",
				Result: value.KindVoid,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					ctx.Set("reading", value.Int(ctx.Get("reading").AsInt()+1))
					return value.Void(), nil
				},
			},
			{
				Name:   "read",
				Result: value.KindInt,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					return ctx.Get("reading"), nil
				},
			},
		},
		Invariant: func(obj *rtsim.Object) (bool, error) {
			return obj.Get("reading").AsInt() >= 0, nil
		},
		Periodic: &rtsim.PeriodicDef{Period: SamplePeriod, Operation: "sample"},
	}
}

// Controller polls the sensor it refers to and keeps the last reading. The
// postcondition of poll holds because readings never go down.
func Controller() *rtsim.ClassDef {
	return &rtsim.ClassDef{
		Name: "Controller",
		Variables: []rtsim.VariableDef{
			{Name: "sensor", Init: value.Nil()},
			{Name: "last", Init: value.Int(0)},
			{Name: "polls", Init: value.Int(0)},
		},
		Operations: []*rtsim.OperationDef{
			{
				Name:   "poll",
				Result: value.KindInt,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					sensor, err := resolve(ctx, "sensor")
					if err != nil {
						return value.Value{}, err
					}
					reading, err := ctx.Call(sensor, "read")
					if err != nil {
						return value.Value{}, err
					}
					ctx.Set("last", reading)
					ctx.Set("polls", value.Int(ctx.Get("polls").AsInt()+1))
					return reading, nil
				},
				Post: func(ctx *rtsim.Context, env value.Bindings, result value.Value) (bool, error) {
					return result.AsInt() == ctx.Get("last").AsInt(), nil
				},
			},
			{
				Name:   "status",
				Result: value.KindTuple,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					return value.Tuple(ctx.Get("last"), ctx.Get("polls")), nil
				},
			},
		},
		Periodic: &rtsim.PeriodicDef{Period: PollPeriod, Offset: 1 * rtsim.Millisecond, Operation: "poll"},
	}
}
