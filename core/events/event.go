package events

import (
	"sync"

	"p2plend/core/types"
)

// Event represents a structured state change emitted by a native module.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the journal).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Collector buffers emitted events until the surrounding transaction decides
// whether to publish or drop them.
type Collector struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface.
func (c *Collector) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, payload.Clone())
	c.mu.Unlock()
}

// Drain returns the buffered events in emission order and resets the buffer.
func (c *Collector) Drain() []*types.Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

// Len reports how many events are buffered.
func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
