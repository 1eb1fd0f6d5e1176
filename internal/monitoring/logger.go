// Package monitoring carries diagnostic events out of the processing stages.
// Stages never log directly; they emit Events to a Sink supplied by the caller.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Severity of an Event.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Event is one diagnostic message from a stage.
type Event struct {
	Stage    string
	Severity Severity
	Message  string

	// Err carries the typed condition behind a warning or error, if any.
	Err error
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink formats events through a printf-style function.
type LogSink struct {
	Logf func(format string, v ...interface{})
}

// NewLogSink returns a sink writing through logf. A nil logf uses log.Printf.
func NewLogSink(logf func(format string, v ...interface{})) *LogSink {
	if logf == nil {
		logf = log.Printf
	}
	return &LogSink{Logf: logf}
}

func (s *LogSink) Emit(e Event) {
	if e.Err != nil {
		s.Logf("[%s] %s: %s (%v)", e.Severity, e.Stage, e.Message, e.Err)
		return
	}
	s.Logf("[%s] %s: %s", e.Severity, e.Stage, e.Message)
}

// Recorder keeps every event in memory. Useful in tests and for run summaries.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns the recorded events of a stage at the given severity.
func (r *Recorder) Filter(stage string, sev Severity) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Stage == stage && e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

// Tee fans events out to several sinks.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Infof emits an informational event.
func Infof(s Sink, stage, format string, v ...interface{}) {
	s.Emit(Event{Stage: stage, Severity: Info, Message: fmt.Sprintf(format, v...)})
}

// Warnf emits a warning event carrying err.
func Warnf(s Sink, stage string, err error, format string, v ...interface{}) {
	s.Emit(Event{Stage: stage, Severity: Warning, Message: fmt.Sprintf(format, v...), Err: err})
}

// Errorf emits an error event carrying err.
func Errorf(s Sink, stage string, err error, format string, v ...interface{}) {
	s.Emit(Event{Stage: stage, Severity: Error, Message: fmt.Sprintf(format, v...), Err: err})
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
