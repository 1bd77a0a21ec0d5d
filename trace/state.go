package trace

// EventState queues events between scheduler steps and hands them to a
// Recorder on Flush. Without a recorder every method is a no-op. Once
// suppressed, new events are dropped; events already queued still flush.
type EventState struct {
	Recorder   Recorder
	queue      []Event
	suppressed bool
}

func (acc *EventState) HasRecorder() bool {
	return acc.Recorder != nil
}

func (acc *EventState) Record(event Event) {
	if acc.Recorder == nil || acc.suppressed {
		return
	}
	acc.queue = append(acc.queue, event)
}

// Suppress drops every later event.
func (acc *EventState) Suppress() {
	acc.suppressed = true
}

func (acc *EventState) Suppressed() bool {
	return acc.suppressed
}

func (acc *EventState) Pending() int {
	return len(acc.queue)
}

func (acc *EventState) Flush() {
	if acc.Recorder == nil {
		return
	}
	for _, event := range acc.queue {
		acc.Recorder.RecordEvent(event)
	}
	// clear slice to GC old events
	for idx := range acc.queue {
		acc.queue[idx] = Event{}
	}
	acc.queue = acc.queue[:0]
}
