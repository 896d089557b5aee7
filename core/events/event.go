package events

import "sync"

// Event represents a structured state change emitted by the exchange.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP API,
// indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events produced by an operation so they can be released
// only once the operation has succeeded. Buffer is not safe for concurrent use.
type Buffer struct {
	pending []Event
}

// Emit queues the event.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Len reports the number of queued events.
func (b *Buffer) Len() int { return len(b.pending) }

// Flush forwards the queued events to dst in emission order and clears the
// buffer.
func (b *Buffer) Flush(dst Emitter) {
	pending := b.pending
	b.pending = nil
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Discard drops all queued events.
func (b *Buffer) Discard() { b.pending = nil }

// Fanout delivers each event to every registered emitter.
type Fanout struct {
	mu      sync.RWMutex
	targets []Emitter
}

// NewFanout builds a fanout over the non-nil emitters supplied.
func NewFanout(targets ...Emitter) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		f.Add(t)
	}
	return f
}

// Add registers another downstream emitter.
func (f *Fanout) Add(target Emitter) {
	if target == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	f.mu.RLock()
	targets := f.targets
	f.mu.RUnlock()
	for _, t := range targets {
		t.Emit(evt)
	}
}

// Recorder keeps every emitted event; it is intended for tests and debugging
// endpoints.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
