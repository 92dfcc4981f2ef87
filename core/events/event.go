package events

import "zkusd/core/types"

// Event represents a structured state change emitted by the core.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (indexers, monitors).
type Emitter interface {
	Emit(*types.Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*types.Event) {}
