package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Plan lifecycle event types
const (
	EventPlanStarted   EventType = "plan_started"
	EventPlanCompleted EventType = "plan_completed"
	EventPlanFailed    EventType = "plan_failed"
	EventPlanCancelled EventType = "plan_cancelled"

	// Model turns
	EventModelRequestSucceeded EventType = "model_request_succeeded"
	EventModelRequestFailed    EventType = "model_request_failed"

	// Tool rounds
	EventToolRoundCompleted EventType = "tool_round_completed"
	EventToolCallFailed     EventType = "tool_call_failed"

	// Final answer and repair
	EventFinalAnswerReceived EventType = "final_answer_received"
	EventPlanRepaired        EventType = "plan_repaired"

	EventSystemError EventType = "system_error"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within a plan run
type Event interface {
	Type() EventType
	Payload() interface{}
	Metadata() map[string]interface{}
	// Timestamp is the creation time in Unix nanoseconds
	Timestamp() int64
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish queues an event for all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types and returns its subscription ID
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) (string, error)

	Unsubscribe(subscriptionID string) error

	// Close stops the workers; queued events that were not yet picked up are dropped
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(eventType EventType, payload interface{}, source string, metadata map[string]interface{}) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType                  { return e.eventType }
func (e *BaseEvent) Payload() interface{}             { return e.payload }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }
func (e *BaseEvent) Timestamp() int64                 { return e.timestamp }
func (e *BaseEvent) Source() string                   { return e.sourceInfo }

// WithMetadata adds or updates one metadata entry and returns the same event
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}

// MetaString reads a string metadata value.
func MetaString(e Event, key string) string {
	if v, ok := e.Metadata()[key].(string); ok {
		return v
	}
	return ""
}

// MetaInt reads an integer metadata value.
func MetaInt(e Event, key string) int {
	switch v := e.Metadata()[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
