package rtsim

import (
	"strings"

	"github.com/nickbattle/vdmj-sub010/trace"
	"github.com/nickbattle/vdmj-sub010/value"
)

// Guard is a synchronisation predicate that must hold before an operation
// activates. Test runs inside an atomic section with the object's lock held,
// so it must not block.
type Guard interface {
	Test(gc GuardContext) (bool, error)
}

// GuardContext gives a guard read access to the object's instance variables
// and history counters.
type GuardContext struct {
	Object    *Object
	Operation string
}

func (gc GuardContext) Get(name string) value.Value {
	return gc.Object.Get(name)
}

// Req is #req(op): how many times op was requested.
func (gc GuardContext) Req(op string) int { return gc.Object.History(op).Req }

// Act is #act(op): how many times op was activated.
func (gc GuardContext) Act(op string) int { return gc.Object.History(op).Act }

// Fin is #fin(op): how many times op completed.
func (gc GuardContext) Fin(op string) int { return gc.Object.History(op).Fin }

// Active is #active(op) = #act(op) - #fin(op).
func (gc GuardContext) Active(op string) int { return gc.Object.History(op).Active() }

// Waiting is #waiting(op) = #req(op) - #act(op).
func (gc GuardContext) Waiting(op string) int { return gc.Object.History(op).Waiting() }

// Permission is a permission predicate written as a function.
type Permission func(gc GuardContext) (bool, error)

func (p Permission) Test(gc GuardContext) (bool, error) {
	return p(gc)
}

// Mutex makes the operations of ops mutually exclusive: none may activate
// while any of them is active on the same object.
func Mutex(ops ...string) Guard {
	return mutexGuard(ops)
}

type mutexGuard []string

func (m mutexGuard) Test(gc GuardContext) (bool, error) {
	for _, op := range m {
		if gc.Active(op) > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (m mutexGuard) String() string {
	return "mutex(" + strings.Join(m, ", ") + ")"
}

// And holds when every guard holds. Guards are tested in order and the
// first false or failing one decides.
func And(guards ...Guard) Guard {
	return andGuard(guards)
}

type andGuard []Guard

func (a andGuard) Test(gc GuardContext) (bool, error) {
	for _, guard := range a {
		ok, err := guard.Test(gc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// activate waits until op's guard holds on obj, then counts the activation.
// The guard is tested and the counter moved under the object's lock in one
// atomic section; a thread whose guard fails parks until the next Signal
// and tests again.
func (sim *Simulation) activate(t *Thread, obj *Object, op *OperationDef) error {
	if op.guard == nil {
		obj.countActivate(op.Name)
		sim.recordOperation(trace.Activate, t, obj, op)
		return nil
	}
	gc := GuardContext{Object: obj, Operation: op.Name}
	for {
		if err := obj.lock.acquire(t); err != nil {
			return err
		}
		var ok bool
		err := t.atomically(func() (err error) {
			ok, err = op.guard.Test(gc)
			if err == nil && ok {
				obj.countActivate(op.Name)
			}
			return err
		})
		if err != nil || ok {
			if releaseErr := obj.lock.release(t); err == nil {
				err = releaseErr
			}
			if err == nil {
				sim.recordOperation(trace.Activate, t, obj, op)
			}
			return err
		}
		sim.debugf("thread %d: guard of %s is false, parking", t.id, op.QualifiedName())
		if err := obj.lock.parkAndRelease(t); err != nil {
			return err
		}
	}
}
