package rtsim

import (
	"errors"

	"github.com/nickbattle/vdmj-sub010/trace"
)

// Bus is a virtual communication link between CPUs. It carries one message
// at a time, so messages on one bus arrive in the order they were sent.
type Bus struct {
	sim     *Simulation
	number  int
	name    string
	rate    int64 // bytes per second, zero is instantaneous
	cpus    []*CPU
	virtual bool

	busyUntil Time
	inFlight  int
}

func (bus *Bus) Name() string { return bus.name }
func (bus *Bus) Number() int { return bus.number }
func (bus *Bus) Rate() int64 { return bus.rate }
func (bus *Bus) Virtual() bool { return bus.virtual }

func (bus *Bus) CPUs() []*CPU {
	return append([]*CPU(nil), bus.cpus...)
}

// InFlight is the number of messages sent but not yet delivered.
func (bus *Bus) InFlight() int {
	return bus.inFlight
}

func (bus *Bus) String() string {
	return bus.name
}

// TransferTime is how long size bytes occupy the bus, rounded up to the
// next nanosecond.
func (bus *Bus) TransferTime(size int) Time {
	if bus.rate == 0 || size <= 0 {
		return 0
	}
	return Time((int64(size)*int64(Second) + bus.rate - 1) / bus.rate)
}

// Transmit queues msg and returns its arrival time. The transfer starts when
// the bus is free and lasts TransferTime(msg.Size).
func (bus *Bus) Transmit(msg *Message) (Time, error) {
	sim := bus.sim
	if sim.stopping.Load() {
		return 0, ErrStopped
	}
	if msg.Bus == nil {
		msg.Bus = bus
	}
	now := sim.clock.Now()
	start := now
	if bus.busyUntil > start {
		start = bus.busyUntil
	}
	arrival := start + bus.TransferTime(msg.Size)
	bus.busyUntil = arrival
	bus.inFlight++

	sim.record(bus.messageEvent(trace.MessageRequest, msg))
	if start == now {
		sim.record(bus.messageEvent(trace.MessageActivate, msg))
	} else {
		sim.clock.schedule(start, func() {
			sim.record(bus.messageEvent(trace.MessageActivate, msg))
		})
	}
	sim.clock.schedule(arrival, func() {
		bus.deliver(msg)
	})
	sim.debugf("%s: %s %d from %s to %s, %d bytes, arrives at %d",
		bus.name, msg.Kind, msg.ID, msg.From.name, msg.To.name, msg.Size, arrival)
	return arrival, nil
}

func (bus *Bus) messageEvent(kind trace.Kind, msg *Message) trace.Event {
	event := trace.Event{
		Kind:      kind,
		ThreadID:  msg.Thread,
		MessageID: msg.ID,
		Bus:       bus.number,
		FromCPU:   msg.From.number,
		ToCPU:     msg.To.number,
		Size:      msg.Size,
		Async:     msg.Async,
	}
	if msg.Operation != nil {
		event.Operation = msg.Operation.QualifiedName()
	}
	if msg.Target != nil {
		event.ObjectRef = msg.Target.id
		event.ClassName = msg.Target.class.Name
	}
	return event
}

// deliver runs when msg arrives. Requests start a thread on the destination
// CPU; responses fill the caller's mailbox.
func (bus *Bus) deliver(msg *Message) {
	sim := bus.sim
	bus.inFlight--
	if sim.stopping.Load() {
		return
	}
	sim.record(bus.messageEvent(trace.MessageCompleted, msg))
	switch msg.Kind {
	case RequestMessage:
		sim.handleRequest(msg)
	case ResponseMessage:
		err := msg.Reply.Deliver(msg.Result, msg.Err)
		if errors.Is(err, ErrDuplicateDelivery) {
			sim.logger.Printf("%s: dropping duplicate response %d to thread %d", bus.name, msg.ID, msg.Thread)
		}
	}
}
