package trace

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Summary counts the events of a run.
type Summary struct {
	Events     int                       `yaml:"events"`
	EndTime    int64                     `yaml:"endTime"`
	Kinds      map[string]int            `yaml:"kinds"`
	Operations map[string]OperationCount `yaml:"operations,omitempty"`
	Messages   int                       `yaml:"messages"`
	Bytes      int                       `yaml:"bytes"`
}

type OperationCount struct {
	Requested int `yaml:"requested"`
	Activated int `yaml:"activated"`
	Completed int `yaml:"completed"`
}

func Summarize(events []Event) Summary {
	summary := Summary{
		Kinds:      make(map[string]int),
		Operations: make(map[string]OperationCount),
	}
	for _, event := range events {
		summary.Events++
		summary.Kinds[event.Kind.String()]++
		if event.Time > summary.EndTime {
			summary.EndTime = event.Time
		}
		switch event.Kind {
		case Request, Activate, Complete:
			count := summary.Operations[event.Operation]
			switch event.Kind {
			case Request:
				count.Requested++
			case Activate:
				count.Activated++
			default:
				count.Completed++
			}
			summary.Operations[event.Operation] = count
		case MessageRequest:
			summary.Messages++
			summary.Bytes += event.Size
		}
	}
	return summary
}

// OperationNames lists the summarised operations in name order.
func (summary Summary) OperationNames() []string {
	names := make([]string, 0, len(summary.Operations))
	for name := range summary.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (summary Summary) YAML() ([]byte, error) {
	return yaml.Marshal(summary)
}
