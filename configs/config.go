package configs

import (
	"log"
	"os"
	"time"

	"github.com/spf13/viper"

	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/trace"
)

type Root struct {
	Debug bool

	// System is the path of the system definition; relative paths are
	// resolved by the caller.
	System string
	// Runs is how many independent simulations of the system to run, at
	// most Parallelism at a time.
	Runs        int
	Parallelism int

	// TimeLimit is simulated time, not wall clock.
	TimeLimit       time.Duration
	DefaultPriority int

	Checks Checks
	Trace  Trace
}

type Checks struct {
	Pre     bool
	Post    bool
	Inv     bool
	Measure bool
}

type Trace struct {
	// File receives one line per event; empty disables it.
	File   string
	Format string
	// Store is a badger directory for the queryable trace; empty keeps it in
	// memory.
	Store   string
	Summary string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Runs", 1)
	v.SetDefault("Parallelism", 0)
	v.SetDefault("DefaultPriority", 1)
	v.SetDefault("Checks.Pre", true)
	v.SetDefault("Checks.Post", true)
	v.SetDefault("Checks.Inv", true)
	v.SetDefault("Checks.Measure", true)
	v.SetDefault("Trace.Format", "json")
}

func ReadConfig(path string) (Root, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Root{}, err
	}
	var c Root
	err := v.Unmarshal(&c)
	return c, err
}

// Default is the configuration used when no file is given.
func Default() Root {
	v := viper.New()
	setDefaults(v)
	var c Root
	if err := v.Unmarshal(&c); err != nil {
		panic(err)
	}
	return c
}

func (c Root) TraceFormat() (trace.Format, error) {
	return trace.ParseFormat(c.Trace.Format)
}

// Options converts the configuration into simulation options. The trace
// recorder is not part of it, since every run needs its own.
func (c Root) Options() []rtsim.SimulationOption {
	opts := []rtsim.SimulationOption{
		rtsim.WithDebugLogging(c.Debug),
		rtsim.WithDefaultPriority(c.DefaultPriority),
		rtsim.WithContractChecks(rtsim.ContractChecks{
			Pre:     c.Checks.Pre,
			Post:    c.Checks.Post,
			Inv:     c.Checks.Inv,
			Measure: c.Checks.Measure,
		}),
	}
	if c.TimeLimit > 0 {
		opts = append(opts, rtsim.WithTimeLimit(rtsim.Time(c.TimeLimit.Nanoseconds())))
	}
	if c.Debug {
		opts = append(opts, rtsim.WithLogger(log.New(os.Stderr, "rtsim: ", log.LstdFlags|log.Lmicroseconds)))
	}
	return opts
}
