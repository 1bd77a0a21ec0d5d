package models

import (
	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/value"
)

// Buffer is a bounded queue. put waits while it is full, take while it is
// empty, and the two never run at the same time.
func Buffer() *rtsim.ClassDef {
	return &rtsim.ClassDef{
		Name: "Buffer",
		Variables: []rtsim.VariableDef{
			{Name: "items", Init: value.Seq()},
			{Name: "capacity", Init: value.Int(2)},
		},
		Operations: []*rtsim.OperationDef{
			{
				Name:   "put",
				Params: []value.Pattern{value.Typed("x", value.KindInt)},
				Result: value.KindVoid,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					items := ctx.Get("items").AsSeq()
					ctx.Set("items", value.SeqFromList(items.Append(env["x"])))
					return value.Void(), nil
				},
			},
			{
				Name:   "take",
				Result: value.KindInt,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					items := ctx.Get("items").AsSeq()
					head := items.Get(0)
					ctx.Set("items", value.SeqFromList(items.Slice(1, items.Len())))
					return head, nil
				},
			},
			{
				Name:   "size",
				Result: value.KindInt,
				Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
					return value.Int(int64(ctx.Get("items").AsSeq().Len())), nil
				},
			},
		},
		Invariant: func(obj *rtsim.Object) (bool, error) {
			return int64(obj.Get("items").AsSeq().Len()) <= obj.Get("capacity").AsInt(), nil
		},
		Permissions: map[string]rtsim.Guard{
			"put": rtsim.Permission(func(gc rtsim.GuardContext) (bool, error) {
				return int64(gc.Get("items").AsSeq().Len()) < gc.Get("capacity").AsInt(), nil
			}),
			"take": rtsim.Permission(func(gc rtsim.GuardContext) (bool, error) {
				return gc.Get("items").AsSeq().Len() > 0, nil
			}),
		},
		Mutexes: [][]string{{"put", "take"}},
	}
}

// Producer puts 1..count into its buffer, one item per millisecond.
func Producer() *rtsim.ClassDef {
	return &rtsim.ClassDef{
		Name: "Producer",
		Variables: []rtsim.VariableDef{
			{Name: "buffer", Init: value.Nil()},
			{Name: "count", Init: value.Int(5)},
			{Name: "sent", Init: value.Int(0)},
		},
		Thread: func(ctx *rtsim.Context) error {
			buffer, err := resolve(ctx, "buffer")
			if err != nil {
				return err
			}
			for ctx.Get("sent").AsInt() < ctx.Get("count").AsInt() {
				next := ctx.Get("sent").AsInt() + 1
				if _, err := ctx.Call(buffer, "put", value.Int(next)); err != nil {
					return err
				}
				ctx.Set("sent", value.Int(next))
				if err := ctx.Duration(rtsim.Millisecond); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// Consumer takes count items from its buffer and sums them.
func Consumer() *rtsim.ClassDef {
	return &rtsim.ClassDef{
		Name: "Consumer",
		Variables: []rtsim.VariableDef{
			{Name: "buffer", Init: value.Nil()},
			{Name: "count", Init: value.Int(5)},
			{Name: "taken", Init: value.Int(0)},
			{Name: "total", Init: value.Int(0)},
		},
		Thread: func(ctx *rtsim.Context) error {
			buffer, err := resolve(ctx, "buffer")
			if err != nil {
				return err
			}
			for ctx.Get("taken").AsInt() < ctx.Get("count").AsInt() {
				item, err := ctx.Call(buffer, "take")
				if err != nil {
					return err
				}
				ctx.Set("total", value.Int(ctx.Get("total").AsInt()+item.AsInt()))
				ctx.Set("taken", value.Int(ctx.Get("taken").AsInt()+1))
			}
			return nil
		},
	}
}
