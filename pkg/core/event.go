package core

import (
	"time"
)

// EventType identifies a registry lifecycle event.
type EventType string

const (
	EventAgentRegistered   EventType = "agent.registered"
	EventAgentUnregistered EventType = "agent.unregistered"
	EventCapabilityChanged EventType = "agent.capability.changed"
)

// Event captures a registry lifecycle notification.
type Event struct {
	Type      EventType
	AgentID   string
	Timestamp time.Time
	Payload   map[string]any
}

// NewEvent builds an event with a timestamp.
func NewEvent(eventType EventType, agentID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
