package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/multierr"
)

type Recorder interface {
	RecordEvent(event Event)
}

// Flusher is implemented by recorders that buffer output.
type Flusher interface {
	Flush() error
}

type Format int

const (
	FormatJSON Format = iota // one JSON object per line
	FormatText               // one classic log line per event
)

func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "json":
		return FormatJSON, nil
	case "text", "log":
		return FormatText, nil
	default:
		return 0, fmt.Errorf("unknown trace format %q", name)
	}
}

type WriterRecorder struct {
	lock   sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	format Format
	err    error
}

// NewWriterRecorder writes line-oriented records to w.
func NewWriterRecorder(w io.Writer, format Format) *WriterRecorder {
	rec := &WriterRecorder{
		out:    bufio.NewWriter(w),
		format: format,
	}
	if closer, ok := w.(io.Closer); ok {
		rec.closer = closer
	}
	return rec
}

// MakeLocalFileRecorder creates filename and records events into it.
func MakeLocalFileRecorder(filename string, format Format) (*WriterRecorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return NewWriterRecorder(file, format), nil
}

func (recorder *WriterRecorder) RecordEvent(event Event) {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	if recorder.err != nil {
		return
	}

	switch recorder.format {
	case FormatText:
		_, recorder.err = fmt.Fprintln(recorder.out, event.String())
	default:
		buf, err := json.Marshal(event)
		if err != nil {
			recorder.err = err
			return
		}
		buf = append(buf, '\n')
		_, recorder.err = recorder.out.Write(buf)
	}
}

// Flush reports the first write error seen, if any.
func (recorder *WriterRecorder) Flush() error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return multierr.Append(recorder.err, recorder.out.Flush())
}

func (recorder *WriterRecorder) Close() (err error) {
	err = recorder.Flush()
	if recorder.closer != nil {
		err = multierr.Append(err, recorder.closer.Close())
	}
	return
}

// MemoryRecorder keeps every event in memory.
type MemoryRecorder struct {
	lock   sync.Mutex
	events []Event
}

func (recorder *MemoryRecorder) RecordEvent(event Event) {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	recorder.events = append(recorder.events, event)
}

// Events returns the recorded events of the given kinds, or all events when
// no kind is given.
func (recorder *MemoryRecorder) Events(kinds ...Kind) []Event {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return filter(recorder.events, kinds)
}

func filter(events []Event, kinds []Kind) []Event {
	if len(kinds) == 0 {
		return append([]Event(nil), events...)
	}
	var out []Event
	for _, event := range events {
		for _, kind := range kinds {
			if event.Kind == kind {
				out = append(out, event)
				break
			}
		}
	}
	return out
}

// Tee sends every event to each recorder in turn.
func Tee(recorders ...Recorder) Recorder {
	return tee(recorders)
}

type tee []Recorder

func (t tee) RecordEvent(event Event) {
	for _, r := range t {
		r.RecordEvent(event)
	}
}

func (t tee) Flush() (err error) {
	for _, r := range t {
		if f, ok := r.(Flusher); ok {
			err = multierr.Append(err, f.Flush())
		}
	}
	return
}

func (t tee) Close() (err error) {
	for _, r := range t {
		if c, ok := r.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return
}
