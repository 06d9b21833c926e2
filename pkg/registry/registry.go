// Package registry maintains the live agent roster and its capability index.
// It is the single source of truth for "who can do what right now".
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/core"
	"github.com/nicholaskb/semant/pkg/errors"
	"github.com/nicholaskb/semant/pkg/telemetry"
)

// Observer receives registry lifecycle events. Dispatch is synchronous and
// in subscription order; a panicking observer is isolated and logged, it
// never breaks the registry operation that triggered the event.
type Observer func(core.Event)

// Registry indexes agents by id and by capability type. One RWMutex guards
// both maps so the capability index can never disagree with the roster.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]core.Agent
	byCapability map[capability.Type]map[string]core.Agent
	lastUsed     map[string]time.Time
	rrCursor     map[capability.Type]int
	observers    []Observer

	policy  Policy
	metrics *telemetry.EngineMetrics
	tracer  trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy sets the selection policy used by Select.
func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithMetrics attaches engine metrics for registration gauges.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		agents:       make(map[string]core.Agent),
		byCapability: make(map[capability.Type]map[string]core.Agent),
		lastUsed:     make(map[string]time.Time),
		rrCursor:     make(map[capability.Type]int),
		policy:       PolicyRoundRobin,
		tracer:       otel.Tracer("semant/registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds an observer. Observers registered earlier are notified
// earlier.
func (r *Registry) Subscribe(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Register adds an agent to the roster and indexes its capabilities. Any
// non-terminated agent already holding the id wins, including one parked in
// Error awaiting explicit recovery; only a terminated entry is evicted and
// replaced.
func (r *Registry) Register(ctx context.Context, a core.Agent) error {
	ctx, span := r.tracer.Start(ctx, "Registry.Register", trace.WithAttributes(
		attribute.String("agent.id", a.ID()),
	))
	defer span.End()

	r.mu.Lock()
	if existing, ok := r.agents[a.ID()]; ok {
		if existing.Status() != core.StatusTerminated {
			r.mu.Unlock()
			return errors.New(errors.CodeDuplicateID, "agent id already registered", nil).
				WithContext("agent_id", a.ID())
		}
		r.dropLocked(existing.ID())
	}

	r.agents[a.ID()] = a
	for _, c := range a.Capabilities() {
		r.indexLocked(c.Type, a)
	}
	observers := r.observers
	r.mu.Unlock()

	r.metrics.RecordAgentRegistered(ctx, 1)
	slog.InfoContext(ctx, "registry.agent.registered",
		slog.String("agent_id", a.ID()),
		slog.Int("capabilities", len(a.Capabilities())),
	)
	r.notify(ctx, observers, core.NewEvent(core.EventAgentRegistered, a.ID(), nil))
	return nil
}

// Unregister removes an agent from the roster and all capability index
// entries.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "Registry.Unregister", trace.WithAttributes(
		attribute.String("agent.id", id),
	))
	defer span.End()

	r.mu.Lock()
	if _, ok := r.agents[id]; !ok {
		r.mu.Unlock()
		return errors.New(errors.CodeNotFound, "agent not registered", nil).
			WithContext("agent_id", id)
	}
	r.dropLocked(id)
	observers := r.observers
	r.mu.Unlock()

	r.metrics.RecordAgentRegistered(ctx, -1)
	slog.InfoContext(ctx, "registry.agent.unregistered", slog.String("agent_id", id))
	r.notify(ctx, observers, core.NewEvent(core.EventAgentUnregistered, id, nil))
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (core.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "agent not registered", nil).
			WithContext("agent_id", id)
	}
	return a, nil
}

// Len returns the roster size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// List returns all registered agents sorted by id.
func (r *Registry) List() []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// FindByCapability returns the live agents indexed under t whose capability
// version is at least minVersion (""/unset means any version), ordered by
// the registry's load-balancing policy rather than insertion order.
func (r *Registry) FindByCapability(t capability.Type, minVersion string) []core.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedLocked(t, minVersion)
}

// orderedLocked applies the selection policy to the live candidates. Round
// robin rotates an id-sorted list by a per-capability cursor; least recently
// used sorts by last dispatch time.
func (r *Registry) orderedLocked(t capability.Type, minVersion string) []core.Agent {
	candidates := r.findLocked(t, minVersion)
	if len(candidates) == 0 {
		return nil
	}
	switch r.policy {
	case PolicyLeastRecentlyUsed:
		sort.SliceStable(candidates, func(i, j int) bool {
			return r.lastUsed[candidates[i].ID()].Before(r.lastUsed[candidates[j].ID()])
		})
	default:
		cursor := r.rrCursor[t] % len(candidates)
		r.rrCursor[t]++
		rotated := make([]core.Agent, 0, len(candidates))
		rotated = append(rotated, candidates[cursor:]...)
		rotated = append(rotated, candidates[:cursor]...)
		candidates = rotated
	}
	return candidates
}

func (r *Registry) findLocked(t capability.Type, minVersion string) []core.Agent {
	var out []core.Agent
	for _, a := range r.byCapability[t] {
		if !a.Status().Live() {
			continue
		}
		if minVersion != "" && !hasAtLeast(a, t, minVersion) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Select picks one agent for the capability according to the registry's
// policy. It records the pick for least-recently-used ordering.
func (r *Registry) Select(ctx context.Context, t capability.Type, minVersion string) (core.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := r.orderedLocked(t, minVersion)
	if len(candidates) == 0 {
		return nil, errors.New(errors.CodeCapabilityUnavailable, "no live agent provides capability", nil).
			WithContext("capability", string(t)).
			WithContext("min_version", minVersion)
	}

	picked := candidates[0]
	r.lastUsed[picked.ID()] = time.Now()
	return picked, nil
}

// Broadcast delivers a system-originated message to every live registered
// agent as individual dispatches; there is no wire-level multicast. Replies
// and per-agent dispatch errors are returned keyed by agent id.
func (r *Registry) Broadcast(ctx context.Context, senderID string, content any) (map[string]core.Message, map[string]error) {
	ctx, span := r.tracer.Start(ctx, "Registry.Broadcast", trace.WithAttributes(
		attribute.String("sender.id", senderID),
	))
	defer span.End()

	targets := r.List()
	replies := make(map[string]core.Message, len(targets))
	errs := make(map[string]error)
	for _, a := range targets {
		if !a.Status().Live() {
			continue
		}
		reply, err := a.ProcessMessage(ctx, core.NewBroadcast(senderID, a.ID(), content))
		if err != nil {
			errs[a.ID()] = err
			continue
		}
		replies[a.ID()] = reply
	}
	return replies, errs
}

// RefreshCapabilities re-indexes an agent after its capability set changed
// and emits a capability.changed event.
func (r *Registry) RefreshCapabilities(ctx context.Context, id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return errors.New(errors.CodeNotFound, "agent not registered", nil).
			WithContext("agent_id", id)
	}
	for _, agents := range r.byCapability {
		delete(agents, id)
	}
	for _, c := range a.Capabilities() {
		r.indexLocked(c.Type, a)
	}
	observers := r.observers
	r.mu.Unlock()

	r.notify(ctx, observers, core.NewEvent(core.EventCapabilityChanged, id, map[string]any{
		"capabilities": a.Capabilities(),
	}))
	return nil
}

func (r *Registry) indexLocked(t capability.Type, a core.Agent) {
	agents, ok := r.byCapability[t]
	if !ok {
		agents = make(map[string]core.Agent)
		r.byCapability[t] = agents
	}
	agents[a.ID()] = a
}

func (r *Registry) dropLocked(id string) {
	delete(r.agents, id)
	delete(r.lastUsed, id)
	for t, agents := range r.byCapability {
		delete(agents, id)
		if len(agents) == 0 {
			delete(r.byCapability, t)
		}
	}
}

func (r *Registry) notify(ctx context.Context, observers []Observer, ev core.Event) {
	for _, obs := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.ErrorContext(ctx, "registry.observer.panic",
						slog.String("event", string(ev.Type)),
						slog.String("agent_id", ev.AgentID),
						slog.Any("panic", rec),
					)
				}
			}()
			obs(ev)
		}()
	}
}

func hasAtLeast(a core.Agent, t capability.Type, minVersion string) bool {
	for _, c := range a.Capabilities() {
		if c.Type == t {
			return capability.CompareVersions(c.Version, minVersion) >= 0
		}
	}
	return false
}
