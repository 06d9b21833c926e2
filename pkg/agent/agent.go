// Package agent provides the base agent implementation. Domain behavior is
// injected as a single message handler strategy; there are no subclassing
// chains.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/core"
	"github.com/nicholaskb/semant/pkg/errors"
	"github.com/nicholaskb/semant/pkg/graph"
	"github.com/nicholaskb/semant/pkg/knowledge"
)

// Handler executes the agent's core behavior for one message.
type Handler func(ctx context.Context, msg core.Message) (core.Message, error)

// InitFunc runs custom initialization while the per-agent lock is held.
type InitFunc func(ctx context.Context, a *Agent) error

// Agent is the base implementation of core.Agent. The processing mutex
// serializes message handling, initialization, and capability mutation, so
// no two operations on the same agent interleave. Status and capability
// observation goes through a separate state lock: readers like the registry
// never wait behind an in-flight handler, and the health monitor can force
// Error on a hung agent without blocking on it.
type Agent struct {
	id      string
	handler Handler
	initFn  InitFunc
	store   *knowledge.Store

	mu sync.Mutex

	stateMu sync.RWMutex
	status  core.AgentStatus
	caps    *capability.Set

	initialized atomic.Bool
	tracer      trace.Tracer
}

// Option configures an Agent instance.
type Option func(*Agent) error

// ErrMissingHandler is returned when no handler was configured.
var ErrMissingHandler = errors.New(errors.CodeValidation, "agent handler is required", nil)

// New creates an agent in the Uninitialized state.
func New(id string, opts ...Option) (*Agent, error) {
	a := &Agent{
		id:     id,
		status: core.StatusUninitialized,
		caps:   capability.NewSet(),
		tracer: otel.Tracer("semant/agent"),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.id == "" {
		return nil, errors.New(errors.CodeValidation, "agent id is required", nil)
	}
	if a.handler == nil {
		return nil, ErrMissingHandler
	}
	return a, nil
}

// WithHandler sets the agent's single message handler. Setting a second
// handler is rejected: one handler per agent is a structural invariant.
func WithHandler(handler Handler) Option {
	return func(a *Agent) error {
		if a.handler != nil {
			return errors.New(errors.CodeValidation, "agent already has a handler", nil).
				WithContext("agent_id", a.id)
		}
		a.handler = handler
		return nil
	}
}

// WithCapabilities seeds the agent's capability set.
func WithCapabilities(caps ...capability.Capability) Option {
	return func(a *Agent) error {
		for _, c := range caps {
			if !c.Type.Valid() {
				return errors.New(errors.CodeValidation, "unknown capability type", nil).
					WithContext("type", string(c.Type))
			}
			a.caps.Add(c)
		}
		return nil
	}
}

// WithKnowledgeStore attaches the shared knowledge store. Initialization
// performs a store handshake recording the agent's presence.
func WithKnowledgeStore(store *knowledge.Store) Option {
	return func(a *Agent) error {
		a.store = store
		return nil
	}
}

// WithInitFunc sets custom initialization run during EnsureInitialized.
func WithInitFunc(fn InitFunc) Option {
	return func(a *Agent) error {
		a.initFn = fn
		return nil
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Status returns the current lifecycle status. It never waits on message
// processing.
func (a *Agent) Status() core.AgentStatus {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.status
}

// Capabilities returns a snapshot of the agent's capabilities.
func (a *Agent) Capabilities() []capability.Capability {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.caps.List()
}

// Knowledge returns the attached knowledge store, if any.
func (a *Agent) Knowledge() *knowledge.Store { return a.store }

// AddCapability adds or upgrades a capability under the processing lock and
// returns the updated snapshot for registry re-indexing.
func (a *Agent) AddCapability(c capability.Capability) ([]capability.Capability, error) {
	if !c.Type.Valid() {
		return nil, errors.New(errors.CodeValidation, "unknown capability type", nil).
			WithContext("type", string(c.Type))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.caps.Add(c)
	return a.caps.List(), nil
}

// RemoveCapability drops a capability under the processing lock and returns
// the updated snapshot.
func (a *Agent) RemoveCapability(t capability.Type) []capability.Capability {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.caps.Remove(t)
	return a.caps.List()
}

// EnsureInitialized performs initialization exactly once using the
// double-checked pattern: the flag is consulted before the lock so repeat
// callers return immediately, and re-checked after acquiring it so only one
// concurrent caller runs the init path.
func (a *Agent) EnsureInitialized(ctx context.Context) error {
	if a.initialized.Load() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized.Load() {
		return nil
	}
	if a.Status() == core.StatusTerminated {
		return errors.New(errors.CodeInitializationFailure, "agent is terminated", nil).
			WithContext("agent_id", a.id)
	}

	if a.initFn != nil {
		if err := a.initFn(ctx, a); err != nil {
			a.setStatus(core.StatusError)
			return errors.New(errors.CodeInitializationFailure, "agent initialization failed", err).
				WithContext("agent_id", a.id)
		}
	}
	if a.store != nil {
		if err := a.store.Add(ctx, knowledge.AgentSubject(a.id), knowledge.PredStatus,
			graph.Literal(string(core.StatusIdle))); err != nil {
			a.setStatus(core.StatusError)
			return errors.New(errors.CodeInitializationFailure, "knowledge store handshake failed", err).
				WithContext("agent_id", a.id)
		}
	}

	a.setStatus(core.StatusIdle)
	a.initialized.Store(true)
	return nil
}

func (a *Agent) setStatus(st core.AgentStatus) {
	a.stateMu.Lock()
	a.status = st
	a.stateMu.Unlock()
}

// ProcessMessage handles one message under the per-agent lock. Handler
// failures and panics are converted into error-typed responses; the agent
// never drops a message silently. A panic is an uncaught failure and parks
// the agent in Error until explicitly recovered.
func (a *Agent) ProcessMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	ctx, span := a.tracer.Start(ctx, "Agent.ProcessMessage", trace.WithAttributes(
		attribute.String("agent.id", a.id),
		attribute.String("message.id", msg.ID),
	))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stateMu.Lock()
	switch a.status {
	case core.StatusTerminated:
		a.stateMu.Unlock()
		return core.Message{}, errors.New(errors.CodeNotFound, "agent is terminated", nil).
			WithContext("agent_id", a.id)
	case core.StatusError:
		a.stateMu.Unlock()
		return core.Message{}, errors.New(errors.CodeAgentError, "agent requires recovery", nil).
			WithContext("agent_id", a.id)
	case core.StatusUninitialized:
		a.stateMu.Unlock()
		return core.Message{}, errors.New(errors.CodeInitializationFailure, "agent is not initialized", nil).
			WithContext("agent_id", a.id)
	}
	a.status = core.StatusBusy
	a.stateMu.Unlock()

	reply, failed := a.invokeHandler(ctx, msg)

	// The health monitor may have forced Error (or a teardown Terminated)
	// while the handler ran; only a still-Busy agent transitions here.
	a.stateMu.Lock()
	if failed {
		if a.status == core.StatusBusy {
			a.status = core.StatusError
		}
		a.stateMu.Unlock()
		slog.ErrorContext(ctx, "agent.process.panic",
			slog.String("agent_id", a.id),
			slog.String("message_id", msg.ID),
		)
		return reply, nil
	}
	if a.status == core.StatusBusy {
		a.status = core.StatusIdle
	}
	a.stateMu.Unlock()
	return reply, nil
}

// invokeHandler runs the handler with panic isolation. failed reports an
// uncaught failure (panic); handler errors become error replies.
func (a *Agent) invokeHandler(ctx context.Context, msg core.Message) (reply core.Message, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			reply = core.NewErrorReply(msg, a.id, fmt.Errorf("panic in handler: %v", r))
			failed = true
		}
	}()

	out, err := a.handler(ctx, msg)
	if err != nil {
		return core.NewErrorReply(msg, a.id, err), false
	}
	return out, false
}

// Recover transitions the agent from Error back to Idle. It is the explicit
// recovery step required after an uncaught processing failure.
func (a *Agent) Recover() error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.status != core.StatusError {
		return errors.New(errors.CodeValidation, "agent is not in error state", nil).
			WithContext("agent_id", a.id).
			WithContext("status", string(a.status))
	}
	a.status = core.StatusIdle
	return nil
}

// MarkError forces the agent into Error. The registry health monitor uses
// this for agents presumed unresponsive after repeated dispatch timeouts,
// so it must not wait on the processing lock the hung handler holds.
func (a *Agent) MarkError() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.status != core.StatusTerminated {
		a.status = core.StatusError
	}
}

// Terminate moves the agent to the absorbing Terminated state. Idempotent.
func (a *Agent) Terminate() {
	a.setStatus(core.StatusTerminated)
}
