package rtsim

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Lock is the per-object critical section used to test guards. Contenders
// for the lock queue in FIFO order; threads that found their guard false
// wait on a separate list and are woken only by Signal.
//
// A Lock is only touched by the thread that currently runs, so it needs no
// synchronisation of its own.
type Lock struct {
	owner   *Thread
	waiters []*Thread
	parked  []*Thread
}

func (lock *Lock) Acquire(ctx *Context) error {
	return lock.acquire(ctx.thread)
}

func (lock *Lock) Release(ctx *Context) error {
	return lock.release(ctx.thread)
}

// ParkAndRelease releases the lock and blocks the calling thread until the
// next Signal. The caller holds no lock when it returns.
func (lock *Lock) ParkAndRelease(ctx *Context) error {
	return lock.parkAndRelease(ctx.thread)
}

// Signal wakes every thread parked by ParkAndRelease, in the order they
// parked. Woken threads re-test their guard; nothing is lost when the guard
// turns out false again.
func (lock *Lock) Signal() {
	parked := lock.parked
	lock.parked = nil
	for _, t := range parked {
		if t.state == BlockedOnGuard {
			t.sim.makeRunnable(t)
		}
	}
}

// Owner returns the thread holding the lock, if any.
func (lock *Lock) Owner() *Thread {
	return lock.owner
}

// Parked is the number of threads waiting for a Signal.
func (lock *Lock) Parked() int {
	return len(lock.parked)
}

func (lock *Lock) acquire(t *Thread) error {
	for lock.owner != nil && lock.owner != t {
		if err := t.canBlock(); err != nil {
			return err
		}
		lock.waiters = append(lock.waiters, t)
		if err := t.park(BlockedOnLock); err != nil {
			lock.dropWaiter(t)
			return err
		}
	}
	lock.owner = t
	return nil
}

func (lock *Lock) release(t *Thread) error {
	if lock.owner != t {
		return fmt.Errorf("thread %d releases a lock it does not hold", t.id)
	}
	lock.owner = nil
	if len(lock.waiters) > 0 {
		next := lock.waiters[0]
		lock.waiters = slices.Delete(lock.waiters, 0, 1)
		lock.owner = next
		next.sim.makeRunnable(next)
	}
	return nil
}

func (lock *Lock) parkAndRelease(t *Thread) error {
	if err := t.canBlock(); err != nil {
		_ = lock.release(t)
		return err
	}
	lock.parked = append(lock.parked, t)
	if err := lock.release(t); err != nil {
		lock.dropParked(t)
		return err
	}
	if err := t.park(BlockedOnGuard); err != nil {
		lock.dropParked(t)
		return err
	}
	return nil
}

func (lock *Lock) dropWaiter(t *Thread) {
	if idx := slices.Index(lock.waiters, t); idx >= 0 {
		lock.waiters = slices.Delete(lock.waiters, idx, idx+1)
	}
	if lock.owner == t {
		// ownership was handed over while we were unwinding
		_ = lock.release(t)
	}
}

func (lock *Lock) dropParked(t *Thread) {
	if idx := slices.Index(lock.parked, t); idx >= 0 {
		lock.parked = slices.Delete(lock.parked, idx, idx+1)
	}
}
