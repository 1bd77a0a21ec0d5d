package rtsim

import (
	"fmt"

	"github.com/benbjohnson/immutable"
)

// pushMeasure evaluates the measure of name and checks it against the value
// observed by the enclosing call of name on this thread, if there is one.
// The new value must be non-negative and strictly smaller. On success the
// value is pushed, and pop must be called when the call returns.
//
// A measure whose evaluation calls name again is a MeasureRecursion
// violation.
func (t *Thread) pushMeasure(loc Location, name string, measure func() (int64, error)) (pop func(), err error) {
	if t.measuring[name] {
		return nil, &ContractViolation{Location: loc, Kind: MeasureRecursion, Name: name,
			Detail: "measure evaluation calls the measured function"}
	}

	var v int64
	err = t.atomically(func() (err error) {
		t.measuring[name] = true
		defer delete(t.measuring, name)
		v, err = measure()
		return err
	})
	if err != nil {
		return nil, err
	}
	if v < 0 {
		return nil, &ContractViolation{Location: loc, Kind: MeasureNotDecreasing, Name: name,
			Detail: fmt.Sprintf("measure value %d is negative", v)}
	}

	stack := t.measures[name]
	if stack == nil {
		stack = immutable.NewList[int64]()
	}
	if n := stack.Len(); n > 0 {
		if prev := stack.Get(n - 1); v >= prev {
			return nil, &ContractViolation{Location: loc, Kind: MeasureNotDecreasing, Name: name,
				Detail: fmt.Sprintf("measure value %d is not less than %d", v, prev)}
		}
	}
	t.measures[name] = stack.Append(v)

	return func() {
		stack := t.measures[name]
		if stack == nil || stack.Len() <= 1 {
			delete(t.measures, name)
			return
		}
		t.measures[name] = stack.Slice(0, stack.Len()-1)
	}, nil
}

// Measures returns, per measured callable, the values observed down the
// current recursion of the thread, outermost first.
func (t *Thread) Measures() map[string][]int64 {
	result := make(map[string][]int64, len(t.measures))
	for name, stack := range t.measures {
		values := make([]int64, 0, stack.Len())
		it := stack.Iterator()
		for !it.Done() {
			_, v := it.Next()
			values = append(values, v)
		}
		result[name] = values
	}
	return result
}

// checkContract evaluates a contract predicate inside an atomic section.
func (sim *Simulation) checkContract(t *Thread, loc Location, kind ContractKind, name string, check func() (bool, error)) error {
	var ok bool
	err := t.atomically(func() (err error) {
		ok, err = check()
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return &ContractViolation{Location: loc, Kind: kind, Name: name}
	}
	return nil
}
