package configs

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	rtsim "github.com/nickbattle/vdmj-sub010"
	"github.com/nickbattle/vdmj-sub010/value"
)

// System is the topology of a model: CPUs, the buses between them and the
// objects deployed on them.
type System struct {
	Name    string   `yaml:"name"`
	CPUs    []CPU    `yaml:"cpus"`
	Buses   []Bus    `yaml:"buses"`
	Objects []Object `yaml:"objects"`
}

type CPU struct {
	Name     string `yaml:"name"`
	Policy   string `yaml:"policy"`
	Speed    int64  `yaml:"speed,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
	// Priorities are keyed by Class`operation.
	Priorities map[string]int `yaml:"priorities,omitempty"`
}

type Bus struct {
	Name string   `yaml:"name"`
	Rate int64    `yaml:"rate"`
	CPUs []string `yaml:"cpus"`
}

type Object struct {
	Name  string `yaml:"name"`
	Class string `yaml:"class"`
	// CPU is empty for objects left on the virtual CPU.
	CPU  string                 `yaml:"cpu,omitempty"`
	Vars map[string]interface{} `yaml:"vars,omitempty"`
	// Refs sets instance variables to references to other named objects.
	Refs  map[string]string `yaml:"refs,omitempty"`
	Start bool              `yaml:"start,omitempty"`
}

func ReadSystem(path string) (System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return System{}, err
	}
	return ParseSystem(data)
}

func ParseSystem(data []byte) (System, error) {
	var sys System
	if err := yaml.Unmarshal(data, &sys); err != nil {
		return System{}, err
	}
	return sys, nil
}

func (sys System) Marshal() ([]byte, error) {
	return yaml.Marshal(sys)
}

// ClassLookup resolves a class name to a fresh class definition.
type ClassLookup func(name string) (*rtsim.ClassDef, bool)

// Apply declares the system in sim: CPUs, buses, then objects, then their
// variables and references, and finally starts the object threads in
// declaration order. It returns the objects by name.
func (sys System) Apply(sim *rtsim.Simulation, lookup ClassLookup) (map[string]*rtsim.Object, error) {
	cpus := make(map[string]*rtsim.CPU, len(sys.CPUs))
	for _, c := range sys.CPUs {
		policy, err := rtsim.ParsePolicy(c.Policy)
		if err != nil {
			return nil, fmt.Errorf("CPU %s: %w", c.Name, err)
		}
		var opts []rtsim.CPUOption
		if c.Speed > 0 {
			opts = append(opts, rtsim.WithSpeed(c.Speed))
		}
		if c.Priority != 0 {
			opts = append(opts, rtsim.WithCPUPriority(c.Priority))
		}
		cpu, err := sim.DeclareCPU(c.Name, policy, opts...)
		if err != nil {
			return nil, err
		}
		for key, priority := range c.Priorities {
			class, op, ok := strings.Cut(key, "`")
			if !ok {
				return nil, fmt.Errorf("CPU %s: priority key %q is not Class`operation", c.Name, key)
			}
			cpu.SetPriority(class, op, priority)
		}
		cpus[c.Name] = cpu
	}

	for _, b := range sys.Buses {
		var connected []*rtsim.CPU
		for _, name := range b.CPUs {
			cpu, ok := cpus[name]
			if !ok {
				return nil, fmt.Errorf("bus %s: unknown CPU %s", b.Name, name)
			}
			connected = append(connected, cpu)
		}
		if _, err := sim.DeclareBus(b.Name, b.Rate, connected...); err != nil {
			return nil, err
		}
	}

	classes := make(map[string]*rtsim.ClassDef)
	objects := make(map[string]*rtsim.Object, len(sys.Objects))
	for _, o := range sys.Objects {
		if _, dup := objects[o.Name]; dup {
			return nil, fmt.Errorf("object %s declared twice", o.Name)
		}
		class, ok := classes[o.Class]
		if !ok {
			if class, ok = lookup(o.Class); !ok {
				return nil, fmt.Errorf("object %s: unknown class %s", o.Name, o.Class)
			}
			classes[o.Class] = class
		}
		var cpu *rtsim.CPU
		if o.CPU != "" {
			if cpu, ok = cpus[o.CPU]; !ok {
				return nil, fmt.Errorf("object %s: unknown CPU %s", o.Name, o.CPU)
			}
		}
		objects[o.Name] = sim.NewObject(class, cpu)
	}

	for _, o := range sys.Objects {
		obj := objects[o.Name]
		for name, raw := range o.Vars {
			v, err := toValue(raw)
			if err != nil {
				return nil, fmt.Errorf("object %s, variable %s: %w", o.Name, name, err)
			}
			if err := setVar(obj, name, v); err != nil {
				return nil, fmt.Errorf("object %s: %w", o.Name, err)
			}
		}
		for name, target := range o.Refs {
			other, ok := objects[target]
			if !ok {
				return nil, fmt.Errorf("object %s, variable %s: unknown object %s", o.Name, name, target)
			}
			if err := setVar(obj, name, other.Ref()); err != nil {
				return nil, fmt.Errorf("object %s: %w", o.Name, err)
			}
		}
	}

	for _, o := range sys.Objects {
		if !o.Start {
			continue
		}
		if _, err := sim.Start(objects[o.Name]); err != nil {
			return nil, err
		}
	}
	return objects, nil
}

func setVar(obj *rtsim.Object, name string, v value.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	obj.Set(name, v)
	return nil
}

// toValue converts a decoded yaml scalar or list into a value.
func toValue(raw interface{}) (value.Value, error) {
	switch raw := raw.(type) {
	case nil:
		return value.Nil(), nil
	case bool:
		return value.Bool(raw), nil
	case int:
		return value.Int(int64(raw)), nil
	case int64:
		return value.Int(raw), nil
	case uint64:
		return value.Int(int64(raw)), nil
	case float64:
		return value.Real(raw), nil
	case string:
		if strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">") && len(raw) > 2 {
			return value.Quote(raw[1 : len(raw)-1]), nil
		}
		return value.String(raw), nil
	case []interface{}:
		members := make([]value.Value, len(raw))
		for i, elem := range raw {
			v, err := toValue(elem)
			if err != nil {
				return value.Value{}, err
			}
			members[i] = v
		}
		return value.Seq(members...), nil
	default:
		return value.Value{}, fmt.Errorf("%w: unsupported yaml value %v (%T)", value.ErrValue, raw, raw)
	}
}
