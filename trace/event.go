package trace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type of a trace record.
type Kind int

const (
	Request Kind = iota
	Activate
	Complete
	ThreadCreate
	ThreadSwapIn
	ThreadKill
	MessageRequest
	MessageActivate
	MessageCompleted
	DeployObj
)

var kindNames = [...]string{
	Request:          "OpRequest",
	Activate:         "OpActivate",
	Complete:         "OpCompleted",
	ThreadCreate:     "ThreadCreate",
	ThreadSwapIn:     "ThreadSwapIn",
	ThreadKill:       "ThreadKill",
	MessageRequest:   "MessageRequest",
	MessageActivate:  "MessageActivate",
	MessageCompleted: "MessageCompleted",
	DeployObj:        "DeployObj",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown trace kind %q", text)
}

// Event is one trace record. Which fields are meaningful depends on Kind:
// operation events fill the operation fields, message events the message
// fields.
type Event struct {
	Kind      Kind
	Time      int64
	ThreadID  uint64
	Operation string
	ObjectRef uint64
	ClassName string
	CPU       int
	Async     bool

	MessageID uint64
	Bus       int
	FromCPU   int
	ToCPU     int
	Size      int
}

func (event Event) isMessage() bool {
	switch event.Kind {
	case MessageRequest, MessageActivate, MessageCompleted:
		return true
	}
	return false
}

func (event Event) MarshalJSON() ([]byte, error) {
	fields := map[string]interface{}{
		"kind":     event.Kind,
		"time":     event.Time,
		"threadId": event.ThreadID,
	}
	if event.isMessage() {
		fields["msgId"] = event.MessageID
		fields["busId"] = event.Bus
		fields["fromCpu"] = event.FromCPU
		fields["toCpu"] = event.ToCPU
		fields["size"] = event.Size
		fields["operation"] = event.Operation
	} else {
		fields["operation"] = event.Operation
		fields["objRef"] = event.ObjectRef
		fields["className"] = event.ClassName
		fields["cpu"] = event.CPU
		fields["async"] = event.Async
	}
	return json.Marshal(fields)
}

func (event *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind      Kind   `json:"kind"`
		Time      int64  `json:"time"`
		ThreadID  uint64 `json:"threadId"`
		Operation string `json:"operation"`
		ObjectRef uint64 `json:"objRef"`
		ClassName string `json:"className"`
		CPU       int    `json:"cpu"`
		Async     bool   `json:"async"`
		MessageID uint64 `json:"msgId"`
		Bus       int    `json:"busId"`
		FromCPU   int    `json:"fromCpu"`
		ToCPU     int    `json:"toCpu"`
		Size      int    `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*event = Event(raw)
	return nil
}

// String renders the event as one line of the classic real-time log.
func (event Event) String() string {
	var b strings.Builder
	b.WriteString(event.Kind.String())
	b.WriteString(" -> ")
	if event.isMessage() {
		fmt.Fprintf(&b, "msgid: %d busid: %d fromcpu: %d tocpu: %d size: %d opname: %q",
			event.MessageID, event.Bus, event.FromCPU, event.ToCPU, event.Size, event.Operation)
	} else {
		fmt.Fprintf(&b, "id: %d", event.ThreadID)
		if event.Operation != "" {
			fmt.Fprintf(&b, " opname: %q", event.Operation)
		}
		fmt.Fprintf(&b, " objref: %d clnm: %q cpunm: %d async: %t",
			event.ObjectRef, event.ClassName, event.CPU, event.Async)
	}
	fmt.Fprintf(&b, " time: %d", event.Time)
	return b.String()
}
