package models

import (
	"fmt"

	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/value"
)

// Counter answers inc(x) = x + 1 and keeps a running total of what it was
// told with the asynchronous add. add refuses negative amounts.
func Counter() *rtsim.ClassDef {
	return &rtsim.ClassDef{
		Name: "Counter",
		Variables: []rtsim.VariableDef{
			{Name: "total", Init: value.Int(0)},
		},
		Operations: []*rtsim.OperationDef{
			{
				Name:   "inc",
				Params: []value.Pattern{value.Typed("x", value.KindInt)},
				Result: value.KindInt,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					return value.Int(env["x"].AsInt() + 1), nil
				},
				Post: func(ctx *rtsim.Context, env value.Bindings, result value.Value) (bool, error) {
					return result.AsInt() == env["x"].AsInt()+1, nil
				},
			},
			{
				Name:   "add",
				Params: []value.Pattern{value.Typed("n", value.KindInt)},
				Result: value.KindVoid,
				Async:  true,
				Pre: func(ctx *rtsim.Context, env value.Bindings) (bool, error) {
					return env["n"].AsInt() >= 0, nil
				},
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					ctx.Set("total", value.Int(ctx.Get("total").AsInt()+env["n"].AsInt()))
					return value.Void(), nil
				},
			},
			{
				Name:   "get",
				Result: value.KindInt,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					return ctx.Get("total"), nil
				},
			},
		},
	}
}

// Fact is the recursive factorial with a measure, as a free function.
var Fact = &rtsim.Function{
	Name:   "fact",
	Module: "Counter",
	Params: []value.Pattern{value.Typed("n", value.KindInt)},
	Result: value.KindInt,
	Pre: func(ctx *rtsim.Context, env value.Bindings) (bool, error) {
		return env["n"].AsInt() >= 0, nil
	},
	Measure: func(ctx *rtsim.Context, env value.Bindings) (int64, error) {
		return env["n"].AsInt(), nil
	},
}

func init() {
	Fact.Body = func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
		n := env["n"].AsInt()
		if n == 0 {
			return value.Int(1), nil
		}
		sub, err := ctx.Evaluate(rtsim.Location{}, Fact, nil, value.Int(n-1))
		if err != nil {
			return value.Value{}, fmt.Errorf("fact(%d): %w", n, err)
		}
		return value.Int(n * sub.AsInt()), nil
	}
}
