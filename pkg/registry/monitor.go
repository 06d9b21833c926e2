package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nicholaskb/semant/pkg/resilience"
)

// errorMarker is implemented by agents that can be forced into the error
// state by the health monitor.
type errorMarker interface {
	MarkError()
}

// HealthMonitor tracks dispatch failures per agent with one circuit breaker
// each. When an agent's breaker trips, the monitor marks it errored and
// evicts it from the registry so routing stops considering it.
type HealthMonitor struct {
	registry *Registry

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker

	failureThreshold int
	cooldown         time.Duration
}

// NewHealthMonitor creates a monitor bound to the registry. failureThreshold
// is the number of consecutive dispatch failures before eviction.
func NewHealthMonitor(r *Registry, failureThreshold int, cooldown time.Duration) *HealthMonitor {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &HealthMonitor{
		registry:         r,
		breakers:         make(map[string]*resilience.CircuitBreaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

func (m *HealthMonitor) breaker(id string) *resilience.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[id]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: m.failureThreshold,
			Timeout:          m.cooldown,
			Name:             "agent:" + id,
		})
		m.breakers[id] = cb
	}
	return cb
}

// RecordSuccess resets the agent's failure streak.
func (m *HealthMonitor) RecordSuccess(id string) {
	m.breaker(id).RecordSuccess()
}

// RecordFailure notes a dispatch failure. If this failure trips the agent's
// breaker, the agent is marked errored and unregistered. Returns true when
// the agent was evicted.
func (m *HealthMonitor) RecordFailure(ctx context.Context, id string) bool {
	if !m.breaker(id).RecordFailure() {
		return false
	}

	slog.WarnContext(ctx, "registry.monitor.agent_evicted",
		slog.String("agent_id", id),
		slog.Int("failure_threshold", m.failureThreshold),
	)

	if a, err := m.registry.Get(id); err == nil {
		if marker, ok := a.(errorMarker); ok {
			marker.MarkError()
		}
	}
	if err := m.registry.Unregister(ctx, id); err != nil {
		slog.WarnContext(ctx, "registry.monitor.unregister_failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	delete(m.breakers, id)
	m.mu.Unlock()
	return true
}
