package rtsim

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/multierr"

	"github.com/nickbattle/vdmj-sub010/trace"
)

// ContractChecks selects which contracts are evaluated at run time.
type ContractChecks struct {
	Pre     bool
	Post    bool
	Inv     bool
	Measure bool
}

// AllContractChecks enables every check. It is the default.
var AllContractChecks = ContractChecks{Pre: true, Post: true, Inv: true, Measure: true}

// ActivationCounters count the requests, activations and completions of one
// operation across a run. They are reported for tracing and determinism
// checks only.
type ActivationCounters struct {
	Requested int
	Activated int
	Completed int
}

// Simulation owns every resource of one run: the clock, the CPUs and buses,
// the objects and the threads. Independent simulations share nothing, so
// several can run in one process.
type Simulation struct {
	logger          *log.Logger
	debug           bool
	checks          ContractChecks
	timeLimit       Time
	defaultPriority int
	mayProceed      func(info ThreadInfo) bool

	events trace.EventState
	clock  VirtualClock

	cpus       []*CPU
	buses      []*Bus
	routes     map[[2]int]*Bus
	virtualCPU *CPU
	virtualBus *Bus

	objects      map[uint64]*Object
	nextObjectID uint64
	nextThreadID uint64
	nextMsgID    uint64

	counters map[string]*ActivationCounters

	// threadsLock guards the threads map and the state and frames of every
	// thread, so that introspection may run on another goroutine.
	threadsLock sync.Mutex
	threads     map[uint64]*Thread

	baton    chan struct{}
	wake     chan struct{}
	stopping atomic.Bool
	running  atomic.Bool
}

type SimulationOption func(sim *Simulation)

func WithLogger(logger *log.Logger) SimulationOption {
	return func(sim *Simulation) {
		sim.logger = logger
	}
}

// WithDebugLogging logs scheduler decisions: swaps, clock advances, message
// arrivals.
func WithDebugLogging(debug bool) SimulationOption {
	return func(sim *Simulation) {
		sim.debug = debug
	}
}

func WithContractChecks(checks ContractChecks) SimulationOption {
	return func(sim *Simulation) {
		sim.checks = checks
	}
}

// WithTimeLimit stops the run once the clock would move past limit.
func WithTimeLimit(limit Time) SimulationOption {
	return func(sim *Simulation) {
		sim.timeLimit = limit
	}
}

func WithRecorder(recorder trace.Recorder) SimulationOption {
	return func(sim *Simulation) {
		sim.events.Recorder = recorder
	}
}

// WithStepHook installs a predicate consulted before a thread is resumed.
// While it returns false for every runnable thread, Run waits for Continue.
func WithStepHook(mayProceed func(info ThreadInfo) bool) SimulationOption {
	return func(sim *Simulation) {
		sim.mayProceed = mayProceed
	}
}

func WithDefaultPriority(priority int) SimulationOption {
	return func(sim *Simulation) {
		sim.defaultPriority = priority
	}
}

// EnsureSimulationOptions treats several options as one.
func EnsureSimulationOptions(opts ...SimulationOption) SimulationOption {
	return func(sim *Simulation) {
		for _, opt := range opts {
			opt(sim)
		}
	}
}

func NewSimulation(opts ...SimulationOption) *Simulation {
	sim := &Simulation{
		logger:          log.Default(),
		checks:          AllContractChecks,
		defaultPriority: 1,
		routes:          make(map[[2]int]*Bus),
		objects:         make(map[uint64]*Object),
		counters:        make(map[string]*ActivationCounters),
		threads:         make(map[uint64]*Thread),
		baton:           make(chan struct{}),
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(sim)
	}
	sim.virtualCPU = sim.addCPU("vCPU", FIFO, true)
	sim.virtualBus = &Bus{sim: sim, number: 0, name: "vBUS", virtual: true}
	sim.buses = append(sim.buses, sim.virtualBus)
	return sim
}

func (sim *Simulation) addCPU(name string, policy Policy, virtual bool) *CPU {
	cpu := &CPU{
		sim:             sim,
		number:          len(sim.cpus),
		name:            name,
		policy:          policy,
		virtual:         virtual,
		defaultPriority: sim.defaultPriority,
		priorities:      make(map[string]int),
	}
	sim.cpus = append(sim.cpus, cpu)
	return cpu
}

// DeclareCPU registers a CPU resource. CPU numbers start at 1; number 0 is
// the virtual CPU hosting objects that were never deployed.
func (sim *Simulation) DeclareCPU(name string, policy Policy, opts ...CPUOption) (*CPU, error) {
	if sim.running.Load() {
		return nil, ErrAlreadyRunning
	}
	if sim.CPU(name) != nil {
		return nil, fmt.Errorf("CPU %s declared twice", name)
	}
	cpu := sim.addCPU(name, policy, false)
	for _, opt := range opts {
		opt(cpu)
	}
	return cpu, nil
}

// DeclareBus registers a Bus resource connecting cpus. A rate of zero bytes
// per second transfers instantly.
func (sim *Simulation) DeclareBus(name string, rate int64, cpus ...*CPU) (*Bus, error) {
	if sim.running.Load() {
		return nil, ErrAlreadyRunning
	}
	if rate < 0 {
		return nil, fmt.Errorf("bus %s has negative rate %d", name, rate)
	}
	if len(cpus) < 2 {
		return nil, fmt.Errorf("bus %s must connect at least two CPUs", name)
	}
	for _, bus := range sim.buses {
		if bus.name == name {
			return nil, fmt.Errorf("bus %s declared twice", name)
		}
	}
	for _, cpu := range cpus {
		if cpu.sim != sim || cpu.virtual {
			return nil, fmt.Errorf("bus %s cannot connect CPU %s", name, cpu.name)
		}
	}
	bus := &Bus{sim: sim, number: len(sim.buses), name: name, rate: rate, cpus: cpus}
	for i, a := range cpus {
		for _, b := range cpus[i+1:] {
			key := routeKey(a, b)
			if other, ok := sim.routes[key]; ok {
				return nil, fmt.Errorf("bus %s: CPUs %s and %s are already connected by %s", name, a.name, b.name, other.name)
			}
		}
	}
	for i, a := range cpus {
		for _, b := range cpus[i+1:] {
			sim.routes[routeKey(a, b)] = bus
		}
	}
	sim.buses = append(sim.buses, bus)
	return bus, nil
}

func routeKey(a, b *CPU) [2]int {
	if a.number > b.number {
		a, b = b, a
	}
	return [2]int{a.number, b.number}
}

// Lookup resolves the bus connecting two CPUs. Same-CPU lookups return nil
// without error; the virtual CPU reaches everybody over the virtual bus.
func (sim *Simulation) Lookup(from, to *CPU) (*Bus, error) {
	if from == to {
		return nil, nil
	}
	if from.virtual || to.virtual {
		return sim.virtualBus, nil
	}
	bus, ok := sim.routes[routeKey(from, to)]
	if !ok {
		return nil, &RouteNotFoundError{From: from.name, To: to.name}
	}
	return bus, nil
}

func (sim *Simulation) CPU(name string) *CPU {
	for _, cpu := range sim.cpus {
		if cpu.name == name {
			return cpu
		}
	}
	return nil
}

func (sim *Simulation) Bus(name string) *Bus {
	for _, bus := range sim.buses {
		if bus.name == name {
			return bus
		}
	}
	return nil
}

func (sim *Simulation) VirtualCPU() *CPU {
	return sim.virtualCPU
}

func (sim *Simulation) Now() Time {
	return sim.clock.Now()
}

// Stop asks a run to end. It may be called from any goroutine, before or
// during Run. Parked threads unwind with ErrStopped; no message is delivered
// and no trace event is recorded afterwards.
func (sim *Simulation) Stop() {
	sim.stopping.Store(true)
	sim.poke()
}

func (sim *Simulation) Stopping() bool {
	return sim.stopping.Load()
}

// Continue resumes a run that is waiting for the step hook.
func (sim *Simulation) Continue() {
	sim.poke()
}

func (sim *Simulation) poke() {
	select {
	case sim.wake <- struct{}{}:
	default:
	}
}

// Threads returns a snapshot of every live thread, ordered by id. It is safe
// to call while Run is in progress.
func (sim *Simulation) Threads() []ThreadInfo {
	sim.threadsLock.Lock()
	defer sim.threadsLock.Unlock()
	infos := make([]ThreadInfo, 0, len(sim.threads))
	for _, t := range sim.threads {
		infos = append(infos, t.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Counters returns a copy of the activation counters, by qualified operation
// name.
func (sim *Simulation) Counters() map[string]ActivationCounters {
	result := make(map[string]ActivationCounters, len(sim.counters))
	for name, counters := range sim.counters {
		result[name] = *counters
	}
	return result
}

// Fingerprint digests the activation counters. Two runs of the same model
// yield the same fingerprint.
func (sim *Simulation) Fingerprint() (uint64, error) {
	return hashstructure.Hash(sim.Counters(), hashstructure.FormatV2, nil)
}

func (sim *Simulation) counter(name string) *ActivationCounters {
	counters, ok := sim.counters[name]
	if !ok {
		counters = &ActivationCounters{}
		sim.counters[name] = counters
	}
	return counters
}

func (sim *Simulation) record(event trace.Event) {
	if sim.stopping.Load() {
		return
	}
	event.Time = int64(sim.clock.Now())
	sim.events.Record(event)
}

func (sim *Simulation) debugf(format string, args ...interface{}) {
	if sim.debug {
		sim.logger.Printf(format, args...)
	}
}

func (sim *Simulation) liveThreads() []*Thread {
	sim.threadsLock.Lock()
	defer sim.threadsLock.Unlock()
	threads := make([]*Thread, 0, len(sim.threads))
	for _, t := range sim.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].id < threads[j].id
	})
	return threads
}

// Close ends the simulation: threads that never ran are unwound, queued
// trace events are flushed, and the recorder is flushed and closed.
func (sim *Simulation) Close() (err error) {
	if sim.running.Load() {
		return ErrAlreadyRunning
	}
	sim.stopping.Store(true)
	sim.shutdown()
	if flusher, ok := sim.events.Recorder.(trace.Flusher); ok {
		err = multierr.Append(err, flusher.Flush())
	}
	if closer, ok := sim.events.Recorder.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	sim.events.Recorder = nil
	return err
}
