package events

// Event represents a structured state change emitted by the payment core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (relays, indexers,
// audit sinks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default emitter until a caller wires a real sink.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder collects every emitted event in order. It is intended for tests
// and for in-process audit tails.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.Events = append(r.Events, evt)
}
