package events

import "sync"

// Event represents a structured ledger state change.
type Event interface {
	EventType() string
}

// Attributed events expose a flat string view used by streaming consumers.
type Attributed interface {
	Event
	Attributes() map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP stream,
// metrics, audit sinks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Fanout delivers every event to each registered emitter in order.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewFanout constructs a fanout over the provided emitters, skipping nils.
func NewFanout(emitters ...Emitter) *Fanout {
	f := &Fanout{}
	for _, e := range emitters {
		f.Add(e)
	}
	return f
}

// Add registers another downstream emitter.
func (f *Fanout) Add(e Emitter) {
	if e == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, e)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(e Event) {
	f.mu.RLock()
	emitters := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, em := range emitters {
		em.Emit(e)
	}
}
