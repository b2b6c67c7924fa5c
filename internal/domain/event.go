package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventRunStarted        EventType = "orchestrator.run.started"
	EventRunCompleted      EventType = "orchestrator.run.completed"
	EventTurnCompleted     EventType = "orchestrator.turn.completed"
	EventSpecialistSkipped EventType = "orchestrator.specialist.skipped"
	EventSpecialistFailed  EventType = "orchestrator.specialist.failed"
	EventTerminated        EventType = "orchestrator.terminated"
	EventMaxTurns          EventType = "orchestrator.max_turns"
	EventRetrievalSearch   EventType = "retrieval.search"
	EventToolCallCompleted EventType = "tool.call.completed"
	EventSessionCreated    EventType = "session.created"
	EventSessionDeleted    EventType = "session.deleted"
)

// RunPayload is attached to run lifecycle events.
type RunPayload struct {
	Kind  string `json:"kind"` // "plan" or "direct"
	Turns int    `json:"turns,omitempty"`
}

// TurnPayload is attached to turn and termination events.
type TurnPayload struct {
	Specialist string `json:"specialist"`
	Turn       int    `json:"turn"`
	Reason     string `json:"reason,omitempty"`
}

// RetrievalPayload is attached to EventRetrievalSearch.
type RetrievalPayload struct {
	Index   string  `json:"index"` // "term" or "passage"
	Tier    string  `json:"tier,omitempty"`
	Hits    int     `json:"hits"`
	Seconds float64 `json:"seconds"`
}

// ToolCallPayload is attached to EventToolCallCompleted.
type ToolCallPayload struct {
	Specialist string `json:"specialist"`
	Tool       string `json:"tool"`
	IsError    bool   `json:"is_error"`
}

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewEvent marshals payload into an Event stamped with the current time.
// A payload that fails to marshal is dropped.
func NewEvent(eventType EventType, sessionID string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	}
}
