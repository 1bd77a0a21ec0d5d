package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/multierr"

	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/configs"
	"github.com/nickbattle/vdmj-sub010/models"
	"github.com/nickbattle/vdmj-sub010/trace"
)

func main() {
	var configPath, systemPath, tracePath, traceFormat, storeDir, summaryPath, profileMode string
	var runs, parallelism int
	var timeLimit time.Duration
	var debug, listClasses bool

	flag.StringVar(&configPath, "c", "", "Config file")
	flag.StringVar(&systemPath, "system", "", "System definition (yaml); overrides the config file")
	flag.StringVar(&tracePath, "trace", "", "write the trace of the first run to this file")
	flag.StringVar(&traceFormat, "format", "", "trace format: json or text")
	flag.StringVar(&storeDir, "store", "", "badger directory for the trace store of the first run")
	flag.StringVar(&summaryPath, "summary", "", "write the trace summary (yaml) here instead of stdout")
	flag.StringVar(&profileMode, "profile", "", "profile the run: cpu or mem")
	flag.IntVar(&runs, "runs", 0, "number of independent runs")
	flag.IntVar(&parallelism, "parallel", 0, "maximum number of runs at a time")
	flag.DurationVar(&timeLimit, "time-limit", 0, "simulated time limit")
	flag.BoolVar(&debug, "debug", false, "log scheduler decisions")
	flag.BoolVar(&listClasses, "classes", false, "list the known classes and exit")

	flag.Parse()

	if listClasses {
		for _, name := range models.Names() {
			fmt.Println(name)
		}
		return
	}

	c := configs.Default()
	if configPath != "" {
		var err error
		if c, err = configs.ReadConfig(configPath); err != nil {
			log.Fatal(err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "system":
			c.System = systemPath
		case "trace":
			c.Trace.File = tracePath
		case "format":
			c.Trace.Format = traceFormat
		case "store":
			c.Trace.Store = storeDir
		case "summary":
			c.Trace.Summary = summaryPath
		case "runs":
			c.Runs = runs
		case "parallel":
			c.Parallelism = parallelism
		case "time-limit":
			c.TimeLimit = timeLimit
		case "debug":
			c.Debug = debug
		}
	})
	if c.System == "" {
		log.Fatal("system definition is not provided")
	}
	if c.Runs < 1 {
		c.Runs = 1
	}

	switch profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		log.Fatalf("unknown profile mode %q", profileMode)
	}

	if err := run(c); err != nil {
		log.Fatal(err)
	}
}

func run(c configs.Root) (err error) {
	sys, err := configs.ReadSystem(c.System)
	if err != nil {
		return err
	}
	format, err := c.TraceFormat()
	if err != nil {
		return err
	}

	store, err := trace.OpenStore(c.Trace.Store)
	if err != nil {
		return err
	}
	recorders := []trace.Recorder{store}
	if c.Trace.File != "" {
		file, err := trace.MakeLocalFileRecorder(c.Trace.File, format)
		if err != nil {
			return multierr.Append(err, store.Close())
		}
		recorders = append(recorders, file)
	}

	sims := make([]*rtsim.Simulation, c.Runs)
	defer func() {
		for _, sim := range sims {
			if sim != nil {
				err = multierr.Append(err, sim.Close())
			}
		}
	}()
	for i := range sims {
		opts := c.Options()
		if i == 0 {
			opts = append(opts, rtsim.WithRecorder(trace.Tee(recorders...)))
		}
		sims[i] = rtsim.NewSimulation(opts...)
		if _, err := sys.Apply(sims[i], models.Lookup); err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runErr := rtsim.RunAll(ctx, c.Parallelism, sims...)
	var deadlock *rtsim.DeadlockError
	if errors.As(runErr, &deadlock) {
		log.Printf("deadlock: %v", deadlock)
	}

	fingerprints := make(map[uint64][]int)
	for i, sim := range sims {
		fp, err := sim.Fingerprint()
		if err != nil {
			return err
		}
		fingerprints[fp] = append(fingerprints[fp], i)
	}
	if len(fingerprints) > 1 {
		log.Printf("runs disagree on activation counts: %v", fingerprints)
	}
	if c.Debug {
		counters := sims[0].Counters()
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			log.Printf("%s: requested %d, activated %d, completed %d",
				name, counters[name].Requested, counters[name].Activated, counters[name].Completed)
		}
	}

	events, err := store.Events()
	if err != nil {
		return multierr.Append(runErr, err)
	}
	summary, err := trace.Summarize(events).YAML()
	if err != nil {
		return multierr.Append(runErr, err)
	}
	if c.Trace.Summary != "" {
		err = os.WriteFile(c.Trace.Summary, summary, 0o644)
	} else {
		_, err = os.Stdout.Write(summary)
	}
	return multierr.Append(runErr, err)
}
