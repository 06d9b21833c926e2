// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StoreMetrics tracks knowledge store activity for production monitoring.
type StoreMetrics struct {
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	triplesAdded   metric.Int64Counter
	triplesRemoved metric.Int64Counter
	rollbacks      metric.Int64Counter
}

// NewStoreMetrics creates a knowledge store metrics tracker with OTEL meters.
func NewStoreMetrics() (*StoreMetrics, error) {
	meter := otel.Meter("semant/knowledge")

	cacheHits, err := meter.Int64Counter(
		"semant.query.cache.hits",
		metric.WithDescription("Query cache hits"),
	)
	if err != nil {
		return nil, err
	}
	cacheMisses, err := meter.Int64Counter(
		"semant.query.cache.misses",
		metric.WithDescription("Query cache misses"),
	)
	if err != nil {
		return nil, err
	}
	triplesAdded, err := meter.Int64Counter(
		"semant.triples.added",
		metric.WithDescription("Triples added to the graph"),
	)
	if err != nil {
		return nil, err
	}
	triplesRemoved, err := meter.Int64Counter(
		"semant.triples.removed",
		metric.WithDescription("Triples removed from the graph"),
	)
	if err != nil {
		return nil, err
	}
	rollbacks, err := meter.Int64Counter(
		"semant.ledger.rollbacks",
		metric.WithDescription("Version ledger rollbacks applied"),
	)
	if err != nil {
		return nil, err
	}

	return &StoreMetrics{
		cacheHits:      cacheHits,
		cacheMisses:    cacheMisses,
		triplesAdded:   triplesAdded,
		triplesRemoved: triplesRemoved,
		rollbacks:      rollbacks,
	}, nil
}

// RecordCacheHit increments the cache hit counter.
func (m *StoreMetrics) RecordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}

// RecordCacheMiss increments the cache miss counter.
func (m *StoreMetrics) RecordCacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

// RecordAdd increments the triples-added counter.
func (m *StoreMetrics) RecordAdd(ctx context.Context) {
	if m == nil {
		return
	}
	m.triplesAdded.Add(ctx, 1)
}

// RecordRemove increments the triples-removed counter.
func (m *StoreMetrics) RecordRemove(ctx context.Context) {
	if m == nil {
		return
	}
	m.triplesRemoved.Add(ctx, 1)
}

// RecordRollback increments the rollback counter.
func (m *StoreMetrics) RecordRollback(ctx context.Context) {
	if m == nil {
		return
	}
	m.rollbacks.Add(ctx, 1)
}

// EngineMetrics tracks workflow engine activity.
type EngineMetrics struct {
	stepAttempts metric.Int64Counter
	stepOutcomes metric.Int64Counter
	liveAgents   metric.Int64UpDownCounter
}

// NewEngineMetrics creates a workflow engine metrics tracker with OTEL meters.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("semant/workflow")

	stepAttempts, err := meter.Int64Counter(
		"semant.workflow.step.attempts",
		metric.WithDescription("Workflow step dispatch attempts, including retries"),
	)
	if err != nil {
		return nil, err
	}
	stepOutcomes, err := meter.Int64Counter(
		"semant.workflow.step.outcomes",
		metric.WithDescription("Workflow step terminal outcomes by status"),
	)
	if err != nil {
		return nil, err
	}
	liveAgents, err := meter.Int64UpDownCounter(
		"semant.registry.agents",
		metric.WithDescription("Currently registered agents"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		stepAttempts: stepAttempts,
		stepOutcomes: stepOutcomes,
		liveAgents:   liveAgents,
	}, nil
}

// RecordStepAttempt increments the step attempt counter for a capability.
func (m *EngineMetrics) RecordStepAttempt(ctx context.Context, capability string) {
	if m == nil {
		return
	}
	m.stepAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
	))
}

// RecordStepOutcome increments the step outcome counter for a status.
func (m *EngineMetrics) RecordStepOutcome(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.stepOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordAgentRegistered adjusts the live agent counter.
func (m *EngineMetrics) RecordAgentRegistered(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.liveAgents.Add(ctx, delta)
}
