package rtsim_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"time"

	"github.com/anishathalye/porcupine"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/configs"
	"github.com/nickbattle/vdmj-sub010/models"
	"github.com/nickbattle/vdmj-sub010/trace"
	"github.com/nickbattle/vdmj-sub010/value"
)

type bufferInput struct {
	Put   bool
	Value int64
}

// queueModel is the sequential model of the bounded buffer: puts
// append, takes return the oldest item.
var queueModel = porcupine.Model{
	Init: func() interface{} {
		return []int64(nil)
	},
	Step: func(state, input, output interface{}) (bool, interface{}) {
		queue := state.([]int64)
		in := input.(bufferInput)
		if in.Put {
			next := append(append([]int64(nil), queue...), in.Value)
			return true, next
		}
		if len(queue) == 0 {
			return false, queue
		}
		return output.(int64) == queue[0], queue[1:]
	},
	Equal: func(a, b interface{}) bool {
		x, y := a.([]int64), b.([]int64)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	},
}

var _ = Describe("Simulation", func() {
	var (
		sims []*rtsim.Simulation
		rec  *trace.MemoryRecorder
		out  *bytes.Buffer
	)

	newSim := func(opts ...rtsim.SimulationOption) *rtsim.Simulation {
		sim := rtsim.NewSimulation(append([]rtsim.SimulationOption{
			rtsim.WithRecorder(rec),
			rtsim.WithLogger(log.New(out, "", 0)),
		}, opts...)...)
		sims = append(sims, sim)
		return sim
	}

	load := func(path string, opts ...rtsim.SimulationOption) (*rtsim.Simulation, map[string]*rtsim.Object) {
		sys, err := configs.ReadSystem(path)
		Expect(err).NotTo(HaveOccurred())
		sim := newSim(opts...)
		objects, err := sys.Apply(sim, models.Lookup)
		Expect(err).NotTo(HaveOccurred())
		return sim, objects
	}

	twoCPUs := func(sim *rtsim.Simulation) (*rtsim.CPU, *rtsim.CPU) {
		cpu1, err := sim.DeclareCPU("CPU1", rtsim.FIFO)
		Expect(err).NotTo(HaveOccurred())
		cpu2, err := sim.DeclareCPU("CPU2", rtsim.FIFO)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.DeclareBus("BUS1", 1000, cpu1, cpu2)
		Expect(err).NotTo(HaveOccurred())
		return cpu1, cpu2
	}

	BeforeEach(func() {
		sims = nil
		rec = &trace.MemoryRecorder{}
		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		for _, sim := range sims {
			Expect(sim.Close()).To(Succeed())
		}
	})

	Describe("Remote calls", func() {
		It("returns the result of a synchronous call over the bus", func() {
			sim := newSim()
			cpu1, cpu2 := twoCPUs(sim)
			counter := sim.NewObject(models.Counter(), cpu2)

			var result value.Value
			sim.Spawn(cpu1, "caller", 1, func(ctx *rtsim.Context) (err error) {
				result, err = ctx.Call(counter, "inc", value.Int(5))
				return err
			})
			Expect(sim.Run()).To(Succeed())

			Expect(result.Equal(value.Int(6))).To(BeTrue())
			messages := rec.Events(trace.MessageRequest)
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].FromCPU).To(Equal(cpu1.Number()))
			Expect(messages[1].FromCPU).To(Equal(cpu2.Number()))
			Expect(messages[0].Operation).To(Equal("Counter`inc"))
			Expect(sim.Counters()["Counter`inc"]).To(Equal(rtsim.ActivationCounters{Requested: 1, Activated: 1, Completed: 1}))
		})

		It("returns at once from an asynchronous call and only logs its failure", func() {
			sim := newSim()
			cpu1, cpu2 := twoCPUs(sim)
			counter := sim.NewObject(models.Counter(), cpu2)

			var returnedAt rtsim.Time = -1
			var callErr error
			sim.Spawn(cpu1, "caller", 1, func(ctx *rtsim.Context) error {
				callErr = ctx.CallAsync(counter, "add", value.Int(-1))
				returnedAt = ctx.Now()
				return nil
			})
			Expect(sim.Run()).To(Succeed())

			Expect(callErr).NotTo(HaveOccurred())
			Expect(returnedAt).To(Equal(rtsim.Time(0)))
			Expect(counter.Get("total").AsInt()).To(Equal(int64(0)))
			Expect(out.String()).To(ContainSubstring("asynchronous call Counter`add"))
			Expect(out.String()).To(ContainSubstring("precondition"))
			Expect(rec.Events(trace.MessageRequest)).To(HaveLen(1))
		})

		It("applies an asynchronous call that succeeds", func() {
			sim := newSim()
			cpu1, cpu2 := twoCPUs(sim)
			counter := sim.NewObject(models.Counter(), cpu2)

			sim.Spawn(cpu1, "caller", 1, func(ctx *rtsim.Context) error {
				for _, n := range []int64{1, 2, 3} {
					if err := ctx.CallAsync(counter, "add", value.Int(n)); err != nil {
						return err
					}
				}
				return nil
			})
			Expect(sim.Run()).To(Succeed())
			Expect(counter.Get("total").AsInt()).To(Equal(int64(6)))
			Expect(out.String()).To(BeEmpty())
		})
	})

	Describe("Guards", func() {
		It("activates a busy operation again only once it has finished", func() {
			sim := newSim()
			cpu, err := sim.DeclareCPU("CPU1", rtsim.FIFO)
			Expect(err).NotTo(HaveOccurred())
			class := &rtsim.ClassDef{
				Name: "Worker",
				Operations: []*rtsim.OperationDef{{
					Name:   "work",
					Result: value.KindVoid,
					Body: func(ctx *rtsim.Context, env value.Bindings) (value.Value, error) {
						return value.Void(), ctx.Duration(10 * rtsim.Millisecond)
					},
				}},
				Permissions: map[string]rtsim.Guard{
					"work": rtsim.Permission(func(gc rtsim.GuardContext) (bool, error) {
						return gc.Active("work") == 0, nil
					}),
				},
			}
			worker := sim.NewObject(class, cpu)
			for _, name := range []string{"T1", "T2"} {
				sim.Spawn(cpu, name, 1, func(ctx *rtsim.Context) error {
					_, err := ctx.Call(worker, "work")
					return err
				})
			}
			Expect(sim.Run()).To(Succeed())

			var activations []int64
			for _, event := range rec.Events(trace.Activate) {
				activations = append(activations, event.Time)
			}
			Expect(activations).To(Equal([]int64{0, int64(10 * rtsim.Millisecond)}))
			Expect(sim.Now()).To(Equal(20 * rtsim.Millisecond))
			Expect(worker.History("work")).To(Equal(rtsim.History{Req: 2, Act: 2, Fin: 2}))
		})

		It("reports a model that can never proceed", func() {
			sim := newSim()
			cpu, err := sim.DeclareCPU("CPU1", rtsim.FIFO)
			Expect(err).NotTo(HaveOccurred())
			buffer := sim.NewObject(models.Buffer(), cpu)
			sim.Spawn(cpu, "taker", 1, func(ctx *rtsim.Context) error {
				_, err := ctx.Call(buffer, "take")
				return err
			})

			err = sim.Run()
			var deadlock *rtsim.DeadlockError
			Expect(errors.As(err, &deadlock)).To(BeTrue())
			Expect(deadlock.Blocked).To(HaveLen(1))
			Expect(deadlock.Blocked[0].State).To(Equal(rtsim.BlockedOnGuard))
			code, ok := rtsim.ErrorCode(err)
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(rtsim.CodeDeadlock))
		})
	})

	Describe("Systems", func() {
		It("moves every item through the bounded buffer", func() {
			sim, objects := load("models/testdata/buffer.yaml")
			Expect(sim.Run()).To(Succeed())

			Expect(objects["consumer"].Get("total").AsInt()).To(Equal(int64(21)))
			Expect(objects["consumer"].Get("taken").AsInt()).To(Equal(int64(6)))
			Expect(objects["producer"].Get("sent").AsInt()).To(Equal(int64(6)))
			Expect(objects["buffer"].Get("items").AsSeq().Len()).To(Equal(0))
			Expect(sim.Counters()["Buffer`put"].Completed).To(Equal(6))
			Expect(sim.Counters()["Buffer`take"].Completed).To(Equal(6))
		})

		It("applies configured priorities to object threads", func() {
			sim, objects := load("models/testdata/sensors.yaml", rtsim.WithTimeLimit(100*rtsim.Millisecond))
			var controller rtsim.ThreadInfo
			for _, info := range sim.Threads() {
				if info.CPU == "CPU1" {
					controller = info
				}
			}
			Expect(controller.Priority).To(Equal(3))

			Expect(sim.Run()).To(Succeed())
			Expect(objects["controller"].Get("polls").AsInt()).To(Equal(int64(4)))
			Expect(objects["sensor"].Get("reading").AsInt()).To(Equal(int64(11)))
		})

		It("is deterministic", func() {
			var fingerprints []uint64
			var traces [][]trace.Event
			for i := 0; i < 2; i++ {
				rec = &trace.MemoryRecorder{}
				sim, _ := load("models/testdata/buffer.yaml")
				Expect(sim.Run()).To(Succeed())
				fp, err := sim.Fingerprint()
				Expect(err).NotTo(HaveOccurred())
				fingerprints = append(fingerprints, fp)
				traces = append(traces, rec.Events())
			}
			Expect(fingerprints[0]).To(Equal(fingerprints[1]))
			Expect(traces[0]).To(Equal(traces[1]))
		})
	})

	Describe("Linearizability", func() {
		It("serializes guarded operations on a shared buffer", func() {
			sim := newSim()
			var cpus []*rtsim.CPU
			for _, name := range []string{"CPU1", "CPU2", "CPU3"} {
				cpu, err := sim.DeclareCPU(name, rtsim.FIFO)
				Expect(err).NotTo(HaveOccurred())
				cpus = append(cpus, cpu)
			}
			_, err := sim.DeclareBus("BUS1", 5000, cpus...)
			Expect(err).NotTo(HaveOccurred())
			buffer := sim.NewObject(models.Buffer(), cpus[2])

			var history []porcupine.Operation
			client := func(id int, cpu *rtsim.CPU, inputs []bufferInput) {
				sim.Spawn(cpu, "client", 1, func(ctx *rtsim.Context) error {
					for _, in := range inputs {
						call := ctx.Now()
						var out value.Value
						var err error
						if in.Put {
							out, err = ctx.Call(buffer, "put", value.Int(in.Value))
						} else {
							out, err = ctx.Call(buffer, "take")
						}
						if err != nil {
							return err
						}
						var output interface{}
						if !in.Put {
							output = out.AsInt()
						}
						history = append(history, porcupine.Operation{
							ClientId: id,
							Input:    in,
							Call:     int64(call),
							Output:   output,
							Return:   int64(ctx.Now()),
						})
					}
					return nil
				})
			}
			client(0, cpus[0], []bufferInput{{Put: true, Value: 1}, {Put: true, Value: 2}})
			client(1, cpus[0], []bufferInput{{Put: true, Value: 3}, {Put: true, Value: 4}})
			client(2, cpus[1], []bufferInput{{}, {}})
			client(3, cpus[1], []bufferInput{{}, {}})
			Expect(sim.Run()).To(Succeed())

			Expect(history).To(HaveLen(8))
			Expect(porcupine.CheckOperations(queueModel, history)).To(BeTrue())
		})
	})

	Describe("RunAll", func() {
		It("runs independent simulations with a limit", func() {
			var consumers []*rtsim.Object
			var all []*rtsim.Simulation
			for i := 0; i < 3; i++ {
				sim, objects := load("models/testdata/buffer.yaml")
				all = append(all, sim)
				consumers = append(consumers, objects["consumer"])
			}
			Expect(rtsim.RunAll(context.Background(), 2, all...)).To(Succeed())
			for _, consumer := range consumers {
				Expect(consumer.Get("total").AsInt()).To(Equal(int64(21)))
			}
		})

		It("stops every simulation when the context is done", func() {
			var all []*rtsim.Simulation
			for i := 0; i < 2; i++ {
				sim, _ := load("models/testdata/sensors.yaml")
				all = append(all, sim)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			Expect(rtsim.RunAll(ctx, 0, all...)).To(Succeed())
			for _, sim := range all {
				Expect(sim.Stopping()).To(BeTrue())
				Expect(sim.Threads()).To(BeEmpty())
			}
		})

		It("combines the errors of the runs", func() {
			ok, _ := load("models/testdata/buffer.yaml")
			stuck := newSim()
			cpu, err := stuck.DeclareCPU("CPU1", rtsim.FIFO)
			Expect(err).NotTo(HaveOccurred())
			buffer := stuck.NewObject(models.Buffer(), cpu)
			stuck.Spawn(cpu, "taker", 1, func(ctx *rtsim.Context) error {
				_, err := ctx.Call(buffer, "take")
				return err
			})

			err = rtsim.RunAll(context.Background(), 0, ok, stuck)
			var deadlock *rtsim.DeadlockError
			Expect(errors.As(err, &deadlock)).To(BeTrue())
		})
	})
})
