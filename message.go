package rtsim

import (
	"fmt"

	"github.com/nickbattle/vdmj-sub010/value"
)

type MessageKind int

const (
	RequestMessage MessageKind = iota
	ResponseMessage
)

func (kind MessageKind) String() string {
	switch kind {
	case RequestMessage:
		return "request"
	case ResponseMessage:
		return "response"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(kind))
	}
}

// Message is what travels over a bus. Request arguments and response
// results are constant copies; live references never cross a link.
type Message struct {
	ID   uint64
	Kind MessageKind

	From, To *CPU
	Bus      *Bus
	// Thread is the id of the thread that made the call.
	Thread   uint64
	Location Location

	Target    *Object
	Operation *OperationDef
	Args      []value.Value
	Async     bool
	// Reply receives the response of a synchronous request.
	Reply *Mailbox

	Result value.Value
	Err    error

	Size int
}

func (sim *Simulation) newRequest(t *Thread, loc Location, bus *Bus, target *Object, op *OperationDef, args []value.Value, async bool) (*Message, error) {
	constants := make([]value.Value, len(args))
	for i, arg := range args {
		constants[i] = value.Constant(arg)
	}
	size, err := value.Size(constants...)
	if err != nil {
		return nil, err
	}
	sim.nextMsgID++
	msg := &Message{
		ID:        sim.nextMsgID,
		Kind:      RequestMessage,
		From:      t.cpu,
		To:        target.cpu,
		Bus:       bus,
		Thread:    t.id,
		Location:  loc,
		Target:    target,
		Operation: op,
		Args:      constants,
		Async:     async,
		Size:      size,
	}
	if !async {
		msg.Reply = &Mailbox{}
	}
	return msg, nil
}

// newResponse answers request over the bus it came in on.
func (sim *Simulation) newResponse(request *Message, result value.Value, err error) *Message {
	sim.nextMsgID++
	msg := &Message{
		ID:        sim.nextMsgID,
		Kind:      ResponseMessage,
		From:      request.To,
		To:        request.From,
		Bus:       request.Bus,
		Thread:    request.Thread,
		Location:  request.Location,
		Target:    request.Target,
		Operation: request.Operation,
		Reply:     request.Reply,
		Err:       err,
	}
	if err != nil {
		msg.Size = len(err.Error())
		return msg
	}
	msg.Result = value.Constant(result)
	size, sizeErr := value.Size(msg.Result)
	if sizeErr != nil {
		msg.Result, msg.Err = value.Value{}, sizeErr
		return msg
	}
	msg.Size = size
	return msg
}
