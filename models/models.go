// Package models holds ready-made classes for the rtsim command and for
// tests: a sensor polled by a controller over a bus, a bounded buffer
// shared by a producer and a consumer, and a remote counter.
package models

import (
	"sort"

	rtsim "github.com/nickbattle/vdmj-sub010"
)

// Factory builds a fresh class definition. Class definitions must not be
// shared between simulations.
type Factory func() *rtsim.ClassDef

var catalog = map[string]Factory{
	"Sensor":     Sensor,
	"Controller": Controller,
	"Buffer":     Buffer,
	"Producer":   Producer,
	"Consumer":   Consumer,
	"Counter":    Counter,
}

// Lookup finds a class by name and builds it.
func Lookup(name string) (*rtsim.ClassDef, bool) {
	factory, ok := catalog[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Names lists the known classes.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resolve(ctx *rtsim.Context, variable string) (*rtsim.Object, error) {
	return ctx.Simulation().Object(ctx.Get(variable))
}
