package rtsim

import (
	"fmt"

	"github.com/nickbattle/vdmj-sub010/value"
)

// VariableDef declares an instance variable and its initial value.
type VariableDef struct {
	Name string
	Init value.Value
}

// PeriodicDef makes the class thread call Operation every Period, starting
// Offset after the thread starts.
type PeriodicDef struct {
	Period    Time
	Offset    Time
	Operation string
	Args      []value.Value
}

// ClassDef is a class as handed over by the type checker: its instance
// variables, operations and synchronisation clauses.
type ClassDef struct {
	Name       string
	Variables  []VariableDef
	Operations []*OperationDef
	// Invariant is checked after every operation completes on an instance.
	Invariant func(obj *Object) (bool, error)
	// Permissions maps operation names to permission guards.
	Permissions map[string]Guard
	// Mutexes lists sets of operations of which at most one may be active
	// at a time, per object.
	Mutexes [][]string
	// Thread is the body started by Simulation.Start. A class may have a
	// Thread or a Periodic, not both.
	Thread   ThreadBody
	Periodic *PeriodicDef

	bound bool
}

// Operation finds an operation by name.
func (class *ClassDef) Operation(name string) *OperationDef {
	for _, op := range class.Operations {
		if op.Name == name {
			return op
		}
	}
	return nil
}

// bind links operations back to their class and composes their guards. It
// runs once, when the first instance is created.
func (class *ClassDef) bind() {
	if class.bound {
		return
	}
	class.bound = true
	for _, op := range class.Operations {
		op.class = class
		var guards []Guard
		if permission, ok := class.Permissions[op.Name]; ok && permission != nil {
			guards = append(guards, permission)
		}
		for _, set := range class.Mutexes {
			for _, name := range set {
				if name == op.Name {
					guards = append(guards, Mutex(set...))
					break
				}
			}
		}
		switch len(guards) {
		case 0:
			op.guard = nil
		case 1:
			op.guard = guards[0]
		default:
			op.guard = And(guards...)
		}
	}
}

// History holds the per-object history counters of one operation.
type History struct {
	Req int
	Act int
	Fin int
}

func (h History) Active() int { return h.Act - h.Fin }
func (h History) Waiting() int { return h.Req - h.Act }

// Object is an instance of a class, deployed on one CPU.
type Object struct {
	sim     *Simulation
	id      uint64
	class   *ClassDef
	cpu     *CPU
	lock    Lock
	vars    map[string]*value.Cell
	history map[string]*History
	started bool
}

// NewObject creates an instance of class on cpu, or on the virtual CPU when
// cpu is nil. Every write to an instance variable signals the object's lock,
// so guards reading it are re-tested.
//
// During a run, only the running thread may create objects; see
// Context.New.
func (sim *Simulation) NewObject(class *ClassDef, cpu *CPU) *Object {
	class.bind()
	sim.nextObjectID++
	obj := &Object{
		sim:     sim,
		id:      sim.nextObjectID,
		class:   class,
		vars:    make(map[string]*value.Cell, len(class.Variables)),
		history: make(map[string]*History),
	}
	for _, v := range class.Variables {
		cell := value.NewCell(v.Name, v.Init)
		cell.OnChange(func(string) {
			obj.lock.Signal()
		})
		obj.vars[v.Name] = cell
	}
	sim.objects[obj.id] = obj
	if cpu == nil {
		cpu = sim.virtualCPU
	}
	cpu.deploy(obj)
	return obj
}

// Object resolves an object reference value.
func (sim *Simulation) Object(ref value.Value) (*Object, error) {
	if ref.Kind() != value.KindObject {
		return nil, fmt.Errorf("%w: %v is not an object reference", value.ErrValue, ref)
	}
	id, _ := ref.AsObject()
	obj, ok := sim.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: no object with reference %d", value.ErrValue, id)
	}
	return obj, nil
}

func (obj *Object) ID() uint64 { return obj.id }
func (obj *Object) Class() *ClassDef { return obj.class }
func (obj *Object) CPU() *CPU { return obj.cpu }
func (obj *Object) Lock() *Lock { return &obj.lock }
func (obj *Object) Ref() value.Value { return value.ObjectRef(obj.id, obj.class.Name) }
func (obj *Object) String() string { return fmt.Sprintf("%s{#%d}", obj.class.Name, obj.id) }

// Var returns the cell of an instance variable, for live references.
func (obj *Object) Var(name string) *value.Cell {
	cell, ok := obj.vars[name]
	if !ok {
		panic(fmt.Errorf("%w: class %s has no instance variable %s", value.ErrValue, obj.class.Name, name))
	}
	return cell
}

func (obj *Object) Get(name string) value.Value {
	return obj.Var(name).Get()
}

func (obj *Object) Set(name string, v value.Value) {
	obj.Var(name).Set(v)
}

// History returns the history counters of operation op.
func (obj *Object) History(op string) History {
	if h, ok := obj.history[op]; ok {
		return *h
	}
	return History{}
}

func (obj *Object) historyOf(op string) *History {
	h, ok := obj.history[op]
	if !ok {
		h = &History{}
		obj.history[op] = h
	}
	return h
}

// countRequest, countActivate and countFinish move the history counters;
// guards may read them, so each change signals the lock.
func (obj *Object) countRequest(op string) {
	obj.historyOf(op).Req++
	obj.lock.Signal()
}

// withdrawRequest takes back a request that will never activate.
func (obj *Object) withdrawRequest(op string) {
	obj.historyOf(op).Req--
	obj.lock.Signal()
}

func (obj *Object) countActivate(op string) {
	obj.historyOf(op).Act++
	obj.lock.Signal()
}

func (obj *Object) countFinish(op string) {
	obj.historyOf(op).Fin++
	obj.lock.Signal()
}
