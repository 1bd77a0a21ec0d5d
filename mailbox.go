package rtsim

import (
	"github.com/nickbattle/vdmj-sub010/value"
)

// Mailbox is a single-slot handoff: one Deliver, any number of Awaits. Once
// delivered, Await returns the same result without blocking.
type Mailbox struct {
	delivered bool
	result    value.Value
	err       error
	waiter    *Thread
}

// Await blocks the calling thread until a result is delivered.
func (mb *Mailbox) Await(ctx *Context) (value.Value, error) {
	return mb.await(ctx.thread)
}

func (mb *Mailbox) await(t *Thread) (value.Value, error) {
	for !mb.delivered {
		mb.waiter = t
		if err := t.park(BlockedOnReply); err != nil {
			mb.waiter = nil
			return value.Value{}, err
		}
	}
	mb.waiter = nil
	return mb.result, mb.err
}

// Deliver fills the mailbox and wakes its waiter. A second delivery is
// refused with ErrDuplicateDelivery and leaves the first result in place.
func (mb *Mailbox) Deliver(result value.Value, err error) error {
	if mb.delivered {
		return ErrDuplicateDelivery
	}
	mb.delivered = true
	mb.result = result
	mb.err = err
	if t := mb.waiter; t != nil && t.state == BlockedOnReply {
		t.sim.makeRunnable(t)
	}
	return nil
}

func (mb *Mailbox) Delivered() bool {
	return mb.delivered
}
