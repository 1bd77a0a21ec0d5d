package rtsim

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/nickbattle/vdmj-sub010/trace"
)

// Policy is the scheduling discipline of a CPU.
type Policy int

const (
	// FIFO serves ready threads in arrival order and swaps the running
	// thread out at every yield point when another thread is waiting.
	FIFO Policy = iota
	// FixedPriority serves higher priorities first, arrival order within a
	// priority, and swaps out only for a waiting thread of higher or equal
	// priority.
	FixedPriority
)

func (p Policy) String() string {
	switch p {
	case FIFO:
		return "FCFS"
	case FixedPriority:
		return "FP"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names used in system definitions.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "FCFS", "fcfs", "FIFO", "fifo", "":
		return FIFO, nil
	case "FP", "fp", "fixed", "priority":
		return FixedPriority, nil
	default:
		return 0, fmt.Errorf("unknown scheduling policy %q", name)
	}
}

// CPU is a virtual processor. At most one of its threads runs at a time.
type CPU struct {
	sim     *Simulation
	number  int
	name    string
	policy  Policy
	virtual bool
	// speed in cycles per second; zero makes Cycles free
	speed int64

	defaultPriority int
	priorities      map[string]int

	ready   []*Thread
	running *Thread
	objects []*Object
}

type CPUOption func(cpu *CPU)

// WithSpeed sets the clock rate used to convert Cycles into time.
func WithSpeed(hz int64) CPUOption {
	return func(cpu *CPU) {
		cpu.speed = hz
	}
}

func WithCPUPriority(priority int) CPUOption {
	return func(cpu *CPU) {
		cpu.defaultPriority = priority
	}
}

func (cpu *CPU) Name() string { return cpu.name }
func (cpu *CPU) Number() int { return cpu.number }
func (cpu *CPU) Policy() Policy { return cpu.policy }
func (cpu *CPU) Virtual() bool { return cpu.virtual }

func (cpu *CPU) String() string {
	return cpu.name
}

// Objects lists the objects deployed on cpu, in deployment order.
func (cpu *CPU) Objects() []*Object {
	return append([]*Object(nil), cpu.objects...)
}

// Deploy moves obj onto cpu. Calls made after deployment dispatch by the new
// placement.
func (cpu *CPU) Deploy(obj *Object) error {
	if cpu.sim.running.Load() {
		return ErrAlreadyRunning
	}
	if obj.sim != cpu.sim {
		return fmt.Errorf("object %d belongs to another simulation", obj.id)
	}
	cpu.deploy(obj)
	return nil
}

func (cpu *CPU) deploy(obj *Object) {
	if old := obj.cpu; old != nil {
		if idx := slices.Index(old.objects, obj); idx >= 0 {
			old.objects = slices.Delete(old.objects, idx, idx+1)
		}
	}
	obj.cpu = cpu
	cpu.objects = append(cpu.objects, obj)
	cpu.sim.record(trace.Event{
		Kind:      trace.DeployObj,
		ObjectRef: obj.id,
		ClassName: obj.class.Name,
		CPU:       cpu.number,
	})
}

// SetPriority sets the priority of threads running op of class on cpu.
func (cpu *CPU) SetPriority(class, op string, priority int) {
	cpu.priorities[class+"`"+op] = priority
}

func (cpu *CPU) priorityOf(class, op string) int {
	if priority, ok := cpu.priorities[class+"`"+op]; ok {
		return priority
	}
	return cpu.defaultPriority
}

// cycles converts a cycle count into time at the CPU's speed, rounding up.
func (cpu *CPU) cycles(n int64) Time {
	if cpu.speed <= 0 || n <= 0 {
		return 0
	}
	return Time((n*int64(Second) + cpu.speed - 1) / cpu.speed)
}

func (cpu *CPU) enqueue(t *Thread) {
	if cpu.policy == FIFO {
		cpu.ready = append(cpu.ready, t)
		return
	}
	idx := slices.IndexFunc(cpu.ready, func(other *Thread) bool {
		return other.priority < t.priority
	})
	if idx < 0 {
		cpu.ready = append(cpu.ready, t)
	} else {
		cpu.ready = slices.Insert(cpu.ready, idx, t)
	}
}

func (cpu *CPU) head() *Thread {
	if len(cpu.ready) == 0 {
		return nil
	}
	return cpu.ready[0]
}

func (cpu *CPU) pop() *Thread {
	t := cpu.ready[0]
	cpu.ready[0] = nil
	cpu.ready = cpu.ready[1:]
	return t
}

func (cpu *CPU) remove(t *Thread) {
	if idx := slices.Index(cpu.ready, t); idx >= 0 {
		cpu.ready = slices.Delete(cpu.ready, idx, idx+1)
	}
}

// shouldPreempt decides, at a yield point of the running thread t, whether
// a ready thread takes over.
func (cpu *CPU) shouldPreempt(t *Thread) bool {
	next := cpu.head()
	if next == nil {
		return false
	}
	if cpu.policy == FIFO {
		return true
	}
	return next.priority >= t.priority
}
