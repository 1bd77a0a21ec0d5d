package value

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Cell is an updatable slot, such as an instance variable. A Live value refers
// to a cell, so it observes later writes; Constant takes a snapshot.
//
// Cells are only touched by the goroutine currently holding the simulation,
// so they carry no lock.
type Cell struct {
	name      string
	v         Value
	listeners []func(name string)
}

func NewCell(name string, initial Value) *Cell {
	return &Cell{name: name, v: initial}
}

func (c *Cell) Name() string {
	return c.name
}

func (c *Cell) Get() Value {
	return c.v
}

// Set stores a constant copy of v and notifies every listener, even when the
// value did not change.
func (c *Cell) Set(v Value) {
	c.v = Constant(v)
	for _, fn := range c.listeners {
		fn(c.name)
	}
}

// OnChange registers fn to run after every Set.
func (c *Cell) OnChange(fn func(name string)) {
	c.listeners = append(c.listeners, fn)
}

type valueLive struct {
	cell *Cell
}

func Live(cell *Cell) Value {
	return Value{&valueLive{cell: cell}}
}

func (v *valueLive) Kind() Kind { return KindLive }

func (v *valueLive) Hash() uint32 {
	return v.cell.Get().Hash()
}

func (v *valueLive) Equal(other Value) bool {
	return v.cell.Get().Equal(Constant(other))
}

func (v *valueLive) String() string {
	return v.cell.Get().String()
}

func (v *valueLive) GobEncode() ([]byte, error) {
	return nil, fmt.Errorf("%w: updatable reference to %s cannot be marshalled, take a constant copy first", ErrValue, v.cell.name)
}

func (v *valueLive) GobDecode([]byte) error {
	return fmt.Errorf("%w: updatable references cannot be unmarshalled", ErrValue)
}

// IsConstant reports whether v contains no live references at any depth.
func IsConstant(v Value) bool {
	switch v.Kind() {
	case KindLive:
		return false
	case KindTuple, KindSeq:
		it := v.data.(*valueList).v.Iterator()
		for !it.Done() {
			_, elem := it.Next()
			if !IsConstant(elem) {
				return false
			}
		}
	case KindSet:
		it := v.AsSet().Iterator()
		for !it.Done() {
			elem, _, _ := it.Next()
			if !IsConstant(elem) {
				return false
			}
		}
	case KindMap:
		it := v.AsMap().Iterator()
		for !it.Done() {
			key, val, _ := it.Next()
			if !IsConstant(key) || !IsConstant(val) {
				return false
			}
		}
	}
	return true
}

// Constant returns v with every live reference replaced by the current value
// of its cell. Values that are already constant are returned as they are.
func Constant(v Value) Value {
	if IsConstant(v) {
		return v
	}
	switch v.Kind() {
	case KindLive:
		return Constant(v.AsCell().Get())
	case KindTuple, KindSeq:
		list := v.data.(*valueList)
		builder := immutable.NewListBuilder[Value]()
		it := list.v.Iterator()
		for !it.Done() {
			_, elem := it.Next()
			builder.Append(Constant(elem))
		}
		return Value{&valueList{v: builder.List(), tuple: list.tuple}}
	case KindSet:
		builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
		it := v.AsSet().Iterator()
		for !it.Done() {
			elem, _, _ := it.Next()
			builder.Set(Constant(elem), true)
		}
		return Value{&valueSet{v: builder.Map()}}
	case KindMap:
		builder := immutable.NewMapBuilder[Value, Value](ValueHasher{})
		it := v.AsMap().Iterator()
		for !it.Done() {
			key, val, _ := it.Next()
			builder.Set(Constant(key), Constant(val))
		}
		return Value{&valueMap{v: builder.Map()}}
	default:
		return v
	}
}

// Marshal gob-encodes constant copies of values, as they would travel over a
// communication link.
func Marshal(values ...Value) ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	for _, v := range values {
		c := Constant(v)
		if err := encoder.Encode(&c); err != nil {
			return nil, fmt.Errorf("%w: marshalling %v: %v", ErrValue, v, err)
		}
	}
	return buf.Bytes(), nil
}

// Size is the marshalled size of values in bytes.
func Size(values ...Value) (int, error) {
	buf, err := Marshal(values...)
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}
