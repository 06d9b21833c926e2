package core

import (
	"context"

	"github.com/nicholaskb/semant/pkg/capability"
)

// AgentStatus describes the lifecycle state of an agent.
type AgentStatus string

const (
	StatusUninitialized AgentStatus = "uninitialized"
	StatusIdle          AgentStatus = "idle"
	StatusBusy          AgentStatus = "busy"
	StatusError         AgentStatus = "error"
	StatusTerminated    AgentStatus = "terminated"
)

// CanTransition reports whether the status machine permits moving from s to
// next. Terminated is absorbing; Error requires an explicit recovery to Idle.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if s == StatusTerminated {
		return false
	}
	switch s {
	case StatusUninitialized:
		return next == StatusIdle || next == StatusError || next == StatusTerminated
	case StatusIdle:
		return next == StatusBusy || next == StatusError || next == StatusTerminated
	case StatusBusy:
		return next == StatusIdle || next == StatusError || next == StatusTerminated
	case StatusError:
		return next == StatusIdle || next == StatusTerminated
	}
	return false
}

// Live reports whether the agent may be routed work.
func (s AgentStatus) Live() bool {
	return s == StatusIdle || s == StatusBusy
}

// Agent is the minimal executable unit of the runtime. Domain behavior is
// injected by composition, not subclassing: implementations hold a single
// message handler strategy.
type Agent interface {
	ID() string
	Status() AgentStatus
	Capabilities() []capability.Capability

	// ProcessMessage handles one incoming message and returns the response.
	// Implementations must never drop a message silently: internal failures
	// surface as an error-typed response.
	ProcessMessage(ctx context.Context, msg Message) (Message, error)
}
