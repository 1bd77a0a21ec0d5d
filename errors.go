package rtsim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nickbattle/vdmj-sub010/value"
)

// ErrStopped is returned by every suspension point once the simulation has
// been asked to stop. Bodies should return it (or any error) promptly.
var ErrStopped = errors.New("simulation stopping")

// ErrNotRunning is returned when a thread would have to block outside a
// running scheduler, for instance during EvaluateLocal.
var ErrNotRunning = errors.New("scheduler is not running")

// ErrBlockInAtomic is returned when code inside an atomic section tries to
// suspend.
var ErrBlockInAtomic = errors.New("cannot block inside an atomic section")

// ErrAlreadyRunning is returned by Run, EvaluateLocal and topology changes
// while a run is in progress.
var ErrAlreadyRunning = errors.New("simulation is already running")

// ErrDuplicateDelivery is returned when a second value is delivered to a
// Mailbox.
var ErrDuplicateDelivery = errors.New("mailbox already holds a reply")

const (
	CodeArity            = 4052
	CodePatternMatch     = 4053
	CodePrecondition     = 4055
	CodePostcondition    = 4056
	CodeInvariant        = 4060
	CodeRouteNotFound    = 4064
	CodeDeadlock         = 4067
	CodeValue            = 4100
	CodeMeasure          = 4146
	CodeMeasureRecursion = 4148
)

// CodedError is implemented by every error of the runtime taxonomy.
type CodedError interface {
	error
	Code() int
}

// ErrorCode maps err onto its stable numeric code.
func ErrorCode(err error) (int, bool) {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code(), true
	}
	if errors.Is(err, value.ErrValue) {
		return CodeValue, true
	}
	return 0, false
}

// Location is a source position supplied by the interpreter.
type Location struct {
	Module string
	Line   int
	Column int
}

func (loc Location) String() string {
	if loc.Module == "" && loc.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%s:%d:%d", loc.Module, loc.Line, loc.Column)
}

type ArityError struct {
	Location Location
	Callable string
	Expected int
	Got      int
}

func (e *ArityError) Code() int { return CodeArity }

func (e *ArityError) Error() string {
	return fmt.Sprintf("Error %d: wrong number of arguments to %s: expected %d, got %d at %s",
		e.Code(), e.Callable, e.Expected, e.Got, e.Location)
}

type PatternMatchError struct {
	Location Location
	Callable string
	Err      error
}

func (e *PatternMatchError) Code() int { return CodePatternMatch }

func (e *PatternMatchError) Error() string {
	return fmt.Sprintf("Error %d: parameter patterns of %s do not match arguments: %v at %s",
		e.Code(), e.Callable, e.Err, e.Location)
}

func (e *PatternMatchError) Unwrap() error {
	return e.Err
}

type RouteNotFoundError struct {
	Location Location
	From, To string
}

func (e *RouteNotFoundError) Code() int { return CodeRouteNotFound }

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("Error %d: no bus connects %s to %s at %s", e.Code(), e.From, e.To, e.Location)
}

type ContractKind int

const (
	Precondition ContractKind = iota
	Postcondition
	Invariant
	MeasureNotDecreasing
	MeasureRecursion
)

func (kind ContractKind) String() string {
	switch kind {
	case Precondition:
		return "precondition"
	case Postcondition:
		return "postcondition"
	case Invariant:
		return "invariant"
	case MeasureNotDecreasing:
		return "measure"
	case MeasureRecursion:
		return "measure recursion"
	default:
		return fmt.Sprintf("ContractKind(%d)", int(kind))
	}
}

// ContractViolation reports a failed precondition, postcondition, invariant
// or measure check.
type ContractViolation struct {
	Location Location
	Kind     ContractKind
	Name     string
	Detail   string
}

func (e *ContractViolation) Code() int {
	switch e.Kind {
	case Precondition:
		return CodePrecondition
	case Postcondition:
		return CodePostcondition
	case Invariant:
		return CodeInvariant
	case MeasureRecursion:
		return CodeMeasureRecursion
	default:
		return CodeMeasure
	}
}

func (e *ContractViolation) Error() string {
	msg := fmt.Sprintf("Error %d: %s failure in %s at %s", e.Code(), e.Kind, e.Name, e.Location)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// DeadlockError is returned by Run when threads remain blocked with nothing
// runnable and nothing pending.
type DeadlockError struct {
	Time    Time
	Blocked []ThreadInfo
}

func (e *DeadlockError) Code() int { return CodeDeadlock }

func (e *DeadlockError) Error() string {
	var parts []string
	for _, info := range e.Blocked {
		parts = append(parts, fmt.Sprintf("%d(%s, %s)", info.ID, info.Name, info.State))
	}
	return fmt.Sprintf("Error %d: deadlock detected at time %d, blocked threads: %s",
		e.Code(), e.Time, strings.Join(parts, ", "))
}
