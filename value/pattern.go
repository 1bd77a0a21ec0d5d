package value

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoMatch is wrapped by pattern match failures.
var ErrNoMatch = errors.New("pattern does not match")

// Bindings collects the names bound by a successful match.
type Bindings map[string]Value

// Pattern is a parameter pattern.
type Pattern interface {
	Match(v Value, into Bindings) error
	String() string
}

type identPattern struct {
	name string
	kind Kind
}

// Ident binds any value to name.
func Ident(name string) Pattern {
	return identPattern{name: name, kind: KindAny}
}

// Typed binds name to a value that converts to kind.
func Typed(name string, kind Kind) Pattern {
	return identPattern{name: name, kind: kind}
}

func (p identPattern) Match(v Value, into Bindings) error {
	converted, err := Convert(v, p.kind)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoMatch, p, err)
	}
	if prev, ok := into[p.name]; ok && !prev.Equal(converted) {
		return fmt.Errorf("%w: %s bound to both %v and %v", ErrNoMatch, p.name, prev, converted)
	}
	into[p.name] = converted
	return nil
}

func (p identPattern) String() string {
	if p.kind == KindAny {
		return p.name
	}
	return p.name + ":" + p.kind.String()
}

type ignorePattern struct{}

// Ignore matches anything and binds nothing.
func Ignore() Pattern {
	return ignorePattern{}
}

func (ignorePattern) Match(Value, Bindings) error { return nil }
func (ignorePattern) String() string             { return "-" }

type literalPattern struct {
	v Value
}

func Literal(v Value) Pattern {
	return literalPattern{v: Constant(v)}
}

func (p literalPattern) Match(v Value, _ Bindings) error {
	if !p.v.Equal(Constant(v)) {
		return fmt.Errorf("%w: %v is not %v", ErrNoMatch, v, p.v)
	}
	return nil
}

func (p literalPattern) String() string {
	return p.v.String()
}

type tuplePattern struct {
	members []Pattern
}

// TuplePattern matches mk_(p1, ..., pn).
func TuplePattern(members ...Pattern) Pattern {
	return tuplePattern{members: members}
}

func (p tuplePattern) Match(v Value, into Bindings) error {
	v = Constant(v)
	if v.Kind() != KindTuple {
		return fmt.Errorf("%w: %v is not a tuple", ErrNoMatch, v)
	}
	list := v.AsTuple()
	if list.Len() != len(p.members) {
		return fmt.Errorf("%w: %v does not have %d fields", ErrNoMatch, v, len(p.members))
	}
	for i, member := range p.members {
		if err := member.Match(list.Get(i), into); err != nil {
			return err
		}
	}
	return nil
}

func (p tuplePattern) String() string {
	s := "mk_("
	for i, member := range p.members {
		if i > 0 {
			s += ", "
		}
		s += member.String()
	}
	return s + ")"
}

// Convert checks that v belongs to kind, widening or narrowing numbers where
// the value allows it. Live values are read first.
func Convert(v Value, kind Kind) (Value, error) {
	if v.Kind() == KindLive {
		v = Constant(v)
	}
	switch {
	case kind == KindAny || v.Kind() == kind:
		return v, nil
	case kind == KindReal && v.Kind() == KindInt:
		return Real(float64(v.AsInt())), nil
	case kind == KindInt && v.Kind() == KindReal:
		f := v.AsReal()
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return Int(int64(f)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: cannot convert %v to %s", ErrValue, v, kind)
}
