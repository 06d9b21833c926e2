package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicholaskb/semant/pkg/core"
	"github.com/nicholaskb/semant/pkg/errors"
	"github.com/nicholaskb/semant/pkg/graph"
	"github.com/nicholaskb/semant/pkg/knowledge"
	"github.com/nicholaskb/semant/pkg/registry"
	"github.com/nicholaskb/semant/pkg/resilience"
	"github.com/nicholaskb/semant/pkg/telemetry"
)

// Config bounds step execution.
type Config struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	StepTimeout    time.Duration
	MaxConcurrency int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		StepTimeout:    30 * time.Second,
		MaxConcurrency: 4,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxRetries < 1 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	return c
}

// Engine runs workflow DAGs. Steps whose dependencies committed run
// concurrently, bounded by MaxConcurrency. All workflow state mutation
// happens on the scheduler goroutine under the engine lock; worker
// goroutines only dispatch and report.
type Engine struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow

	registry *registry.Registry
	store    *knowledge.Store
	monitor  *registry.HealthMonitor
	metrics  *telemetry.EngineMetrics
	cfg      Config
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the execution bounds.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.normalized() }
}

// WithMonitor attaches a health monitor; dispatch timeouts feed it.
func WithMonitor(m *registry.HealthMonitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine bound to a registry and knowledge store.
func NewEngine(r *registry.Registry, store *knowledge.Store, opts ...Option) *Engine {
	e := &Engine{
		workflows: make(map[string]*Workflow),
		registry:  r,
		store:     store,
		cfg:       DefaultConfig(),
		tracer:    otel.Tracer("semant/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create validates the step DAG and registers a pending workflow. id may be
// empty, in which case one is generated; a restarted process passes the old
// id so Resume can pick up the persisted statuses.
func (e *Engine) Create(ctx context.Context, id, name string, steps []Step) (string, error) {
	if name == "" {
		return "", errors.New(errors.CodeValidation, "workflow name is required", nil)
	}
	if len(steps) == 0 {
		return "", errors.New(errors.CodeValidation, "workflow has no steps", nil)
	}
	if err := validateDAG(steps); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}

	wf := &Workflow{
		ID:     id,
		Name:   name,
		Status: StatusPending,
		Steps:  make(map[string]*Step, len(steps)),
	}
	for i := range steps {
		st := steps[i]
		st.Status = StatusPending
		wf.Steps[st.ID] = &st
	}

	e.mu.Lock()
	if _, exists := e.workflows[id]; exists {
		e.mu.Unlock()
		return "", errors.New(errors.CodeDuplicateID, "workflow id already exists", nil).
			WithContext("workflow_id", id)
	}
	e.workflows[id] = wf
	e.mu.Unlock()

	if err := e.persistWorkflowMeta(ctx, wf); err != nil {
		e.mu.Lock()
		delete(e.workflows, id)
		e.mu.Unlock()
		return "", err
	}

	slog.InfoContext(ctx, "workflow.created",
		slog.String("workflow_id", id),
		slog.String("name", name),
		slog.Int("steps", len(steps)),
	)
	return id, nil
}

// Get returns the workflow's current result snapshot.
func (e *Engine) Get(id string) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "workflow not found", nil).
			WithContext("workflow_id", id)
	}
	return wf.result(), nil
}

func (e *Engine) lookup(id string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "workflow not found", nil).
			WithContext("workflow_id", id)
	}
	return wf, nil
}

// Execute runs a pending workflow to completion and returns its result. The
// returned error covers engine-level problems; a failed workflow reports
// through Result.Status.
func (e *Engine) Execute(ctx context.Context, id string) (*Result, error) {
	wf, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if wf.Status != StatusPending {
		status := wf.Status
		e.mu.Unlock()
		return nil, errors.New(errors.CodeValidation, "workflow is not pending", nil).
			WithContext("workflow_id", id).
			WithContext("status", string(status))
	}
	wf.Status = StatusRunning
	e.mu.Unlock()

	return e.run(ctx, wf)
}

// Resume re-reads persisted step statuses and re-enters the traversal at the
// first non-committed step. Committed steps are never re-run; anything that
// was mid-flight goes back to pending for another attempt.
func (e *Engine) Resume(ctx context.Context, id string) (*Result, error) {
	wf, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if wf.Status == StatusCommitted || wf.Status == StatusRolledBack {
		defer e.mu.Unlock()
		return wf.result(), nil
	}
	for _, st := range wf.Steps {
		persisted, err := e.persistedStatus(ctx, knowledge.StepSubject(wf.ID, st.ID))
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		if persisted == StatusCommitted {
			st.Status = StatusCommitted
			if !contains(wf.commitOrder, st.ID) {
				wf.commitOrder = append(wf.commitOrder, st.ID)
			}
		} else {
			st.Status = StatusPending
			st.LastErr = ""
		}
	}
	wf.Status = StatusRunning
	wf.failedStep = ""
	wf.lastErr = ""
	e.mu.Unlock()

	slog.InfoContext(ctx, "workflow.resumed", slog.String("workflow_id", id))
	return e.run(ctx, wf)
}

type stepOutcome struct {
	id       string
	output   any
	attempts int
	err      error
}

// run drives the concurrent topological traversal.
func (e *Engine) run(ctx context.Context, wf *Workflow) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "Workflow.Execute", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("workflow.name", wf.Name),
	))
	defer span.End()

	// A persistence failure aborts the run; the workflow must land in a
	// terminal state, not linger in Running.
	fail := func(err error) (*Result, error) {
		e.mu.Lock()
		wf.Status = StatusFailed
		if wf.lastErr == "" {
			wf.lastErr = err.Error()
		}
		e.mu.Unlock()
		return nil, err
	}

	if err := e.replaceFact(ctx, knowledge.WorkflowSubject(wf.ID), knowledge.PredStatus, string(StatusRunning)); err != nil {
		return fail(err)
	}

	sem := make(chan struct{}, e.cfg.MaxConcurrency)
	// Buffered to the step count so a worker's send never blocks: an abort
	// mid-traversal must not strand in-flight goroutines on the channel.
	results := make(chan stepOutcome, len(wf.Steps))
	inFlight := 0

	for {
		e.mu.Lock()
		ready := wf.readySteps()
		for _, st := range ready {
			st.Status = StatusRunning
		}
		e.mu.Unlock()

		for _, st := range ready {
			if err := e.replaceFact(ctx, knowledge.StepSubject(wf.ID, st.ID), knowledge.PredStatus, string(StatusRunning)); err != nil {
				return fail(err)
			}
			action := st.Action
			stepID := st.ID
			inFlight++
			go func() {
				sem <- struct{}{}
				defer func() { <-sem }()
				out, attempts, err := e.runStep(ctx, wf.ID, stepID, action)
				results <- stepOutcome{id: stepID, output: out, attempts: attempts, err: err}
			}()
		}
		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--

		e.mu.Lock()
		st := wf.Steps[res.id]
		st.Retries = res.attempts - 1
		var skipped []string
		if res.err != nil {
			st.Status = StatusFailed
			st.LastErr = res.err.Error()
			wf.failedStep = st.ID
			wf.lastErr = st.LastErr
			skipped = wf.skipDependents(st.ID)
		} else {
			st.Status = StatusCommitted
			st.Result = res.output
			wf.commitOrder = append(wf.commitOrder, st.ID)
		}
		status := st.Status
		e.mu.Unlock()

		// The outcome is durable before any dependent is considered ready.
		if err := e.persistStepOutcome(ctx, wf.ID, st); err != nil {
			return fail(err)
		}
		for _, id := range skipped {
			if err := e.replaceFact(ctx, knowledge.StepSubject(wf.ID, id), knowledge.PredStatus, string(StatusSkipped)); err != nil {
				return fail(err)
			}
		}

		e.metrics.RecordStepOutcome(ctx, string(status))
		if status == StatusFailed {
			slog.WarnContext(ctx, "workflow.step.failed",
				slog.String("workflow_id", wf.ID),
				slog.String("step_id", res.id),
				slog.String("error", res.err.Error()),
			)
		} else {
			slog.DebugContext(ctx, "workflow.step.committed",
				slog.String("workflow_id", wf.ID),
				slog.String("step_id", res.id),
				slog.Int("retries", res.attempts-1),
			)
		}
	}

	e.mu.Lock()
	final := StatusCommitted
	for _, st := range wf.Steps {
		if st.Status != StatusCommitted {
			final = StatusFailed
			break
		}
	}
	wf.Status = final
	result := wf.result()
	e.mu.Unlock()

	if err := e.replaceFact(ctx, knowledge.WorkflowSubject(wf.ID), knowledge.PredStatus, string(final)); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow.finished",
		slog.String("workflow_id", wf.ID),
		slog.String("status", string(final)),
	)
	return result, nil
}

// runStep dispatches the step action with a per-step timeout inside the
// bounded retry loop. Only recoverable errors (timeouts, capability gaps)
// are retried.
func (e *Engine) runStep(ctx context.Context, workflowID, stepID string, action Action) (any, int, error) {
	ctx, span := e.tracer.Start(ctx, "Workflow.Step", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("step.id", stepID),
		attribute.String("capability", string(action.Capability.Type)),
	))
	defer span.End()

	attempts := 0
	var output any
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(e.cfg.MaxRetries).
		WithInitialDelay(e.cfg.InitialDelay).
		WithMaxDelay(e.cfg.MaxDelay)

	err := retry.Do(ctx, func() error {
		attempts++
		e.metrics.RecordStepAttempt(ctx, string(action.Capability.Type))
		out, err := e.dispatch(ctx, workflowID, action)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	return output, attempts, err
}

// dispatch selects one agent for the action and sends it the payload.
func (e *Engine) dispatch(ctx context.Context, workflowID string, action Action) (any, error) {
	ag, err := e.registry.Select(ctx, action.Capability.Type, action.Capability.Version)
	if err != nil {
		return nil, err
	}

	msg := core.NewMessage("workflow:"+workflowID, ag.ID(), action.Payload)
	reply, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: e.cfg.StepTimeout},
		func(ctx context.Context) (core.Message, error) {
			return ag.ProcessMessage(ctx, msg)
		})
	if err != nil {
		if e.monitor != nil && errors.IsCode(err, errors.CodeTimeout) {
			e.monitor.RecordFailure(ctx, ag.ID())
		}
		return nil, err
	}
	if reply.Type == core.MessageError {
		return nil, errors.New(errors.CodeAgentError, "agent reported an error", nil).
			WithContext("agent_id", ag.ID()).
			WithContext("detail", fmt.Sprintf("%v", reply.Content))
	}
	if e.monitor != nil {
		e.monitor.RecordSuccess(ag.ID())
	}
	return reply.Content, nil
}

// Rollback compensates a failed workflow. Every committed step and the
// failed step must carry a compensation action; compensations for committed
// steps run in reverse commit order.
func (e *Engine) Rollback(ctx context.Context, id string) (*Result, error) {
	wf, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if wf.Status != StatusFailed {
		status := wf.Status
		e.mu.Unlock()
		return nil, errors.New(errors.CodeValidation, "only failed workflows can be rolled back", nil).
			WithContext("workflow_id", id).
			WithContext("status", string(status))
	}
	for _, st := range wf.Steps {
		if (st.Status == StatusCommitted || st.Status == StatusFailed) && st.Compensate == nil {
			e.mu.Unlock()
			return nil, errors.New(errors.CodeValidation, "step has no compensation action", nil).
				WithContext("workflow_id", id).
				WithContext("step", st.ID)
		}
	}
	order := make([]string, len(wf.commitOrder))
	copy(order, wf.commitOrder)
	e.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		e.mu.RLock()
		st := wf.Steps[order[i]]
		compensate := *st.Compensate
		e.mu.RUnlock()

		if _, err := e.dispatch(ctx, wf.ID, compensate); err != nil {
			return nil, errors.New(errors.CodeAgentError, "compensation failed", err).
				WithContext("workflow_id", id).
				WithContext("step", order[i])
		}

		e.mu.Lock()
		st.Status = StatusRolledBack
		e.mu.Unlock()
		if err := e.replaceFact(ctx, knowledge.StepSubject(wf.ID, st.ID), knowledge.PredStatus, string(StatusRolledBack)); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	wf.Status = StatusRolledBack
	result := wf.result()
	e.mu.Unlock()
	if err := e.replaceFact(ctx, knowledge.WorkflowSubject(wf.ID), knowledge.PredStatus, string(StatusRolledBack)); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow.rolled_back", slog.String("workflow_id", id))
	return result, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// --- persistence into the knowledge store ---

// persistWorkflowMeta records the workflow's name, its step membership, and
// pending statuses. Statuses already persisted by an earlier process are
// left alone so Resume sees them.
func (e *Engine) persistWorkflowMeta(ctx context.Context, wf *Workflow) error {
	subj := knowledge.WorkflowSubject(wf.ID)
	if err := e.store.Add(ctx, subj, knowledge.PredName, graph.Literal(wf.Name)); err != nil {
		return err
	}
	for _, st := range wf.Steps {
		stepSubj := knowledge.StepSubject(wf.ID, st.ID)
		if err := e.store.Add(ctx, subj, knowledge.PredStep, graph.IRI(stepSubj)); err != nil {
			return err
		}
		if err := e.store.Add(ctx, stepSubj, knowledge.PredWorkflow, graph.IRI(subj)); err != nil {
			return err
		}
		if err := e.ensureFact(ctx, stepSubj, knowledge.PredStatus, string(StatusPending)); err != nil {
			return err
		}
	}
	return e.ensureFact(ctx, subj, knowledge.PredStatus, string(StatusPending))
}

// ensureFact adds (subject, predicate, value) only when the subject carries
// no value for the predicate yet.
func (e *Engine) ensureFact(ctx context.Context, subject, predicate, value string) error {
	existing, err := e.factValues(ctx, subject, predicate)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return e.store.Add(ctx, subject, predicate, graph.Literal(value))
}

// replaceFact makes value the single object stored for (subject, predicate),
// using an atomic update when exactly one previous value exists.
func (e *Engine) replaceFact(ctx context.Context, subject, predicate, value string) error {
	target := graph.Triple{Subject: subject, Predicate: predicate, Object: graph.Literal(value)}
	existing, err := e.factTerms(ctx, subject, predicate)
	if err != nil {
		return err
	}
	if len(existing) == 1 {
		if existing[0] == target.Object {
			return nil
		}
		old := graph.Triple{Subject: subject, Predicate: predicate, Object: existing[0]}
		return e.store.Update(ctx, old, target)
	}
	for _, term := range existing {
		if term == target.Object {
			continue
		}
		if err := e.store.Remove(ctx, subject, predicate, term); err != nil {
			return err
		}
	}
	if e.store.Contains(target) {
		return nil
	}
	return e.store.Add(ctx, subject, predicate, target.Object)
}

func (e *Engine) factTerms(ctx context.Context, subject, predicate string) ([]graph.Term, error) {
	rs, err := e.store.Query(ctx, graph.Query{
		Select: []string{"v"},
		Patterns: []graph.Pattern{
			{Subject: subject, Predicate: predicate, Object: "?v"},
		},
	})
	if err != nil {
		return nil, err
	}
	terms := make([]graph.Term, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		terms = append(terms, row["v"])
	}
	return terms, nil
}

func (e *Engine) factValues(ctx context.Context, subject, predicate string) ([]string, error) {
	terms, err := e.factTerms(ctx, subject, predicate)
	if err != nil {
		return nil, err
	}
	values := make([]string, len(terms))
	for i, t := range terms {
		values[i] = t.Value
	}
	return values, nil
}

// persistStepOutcome records the step's terminal status plus its result or
// error payload.
func (e *Engine) persistStepOutcome(ctx context.Context, workflowID string, st *Step) error {
	e.mu.RLock()
	status := st.Status
	result := st.Result
	lastErr := st.LastErr
	stepID := st.ID
	e.mu.RUnlock()

	subj := knowledge.StepSubject(workflowID, stepID)
	if err := e.replaceFact(ctx, subj, knowledge.PredStatus, string(status)); err != nil {
		return err
	}
	if status == StatusCommitted && result != nil {
		if err := e.replaceFact(ctx, subj, knowledge.PredResult, fmt.Sprintf("%v", result)); err != nil {
			return err
		}
	}
	if status == StatusFailed && lastErr != "" {
		if err := e.replaceFact(ctx, subj, knowledge.PredError, lastErr); err != nil {
			return err
		}
	}
	return e.replaceFact(ctx, subj, knowledge.PredUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano))
}

// persistedStatus reads the status triple back from the store, defaulting to
// pending when the subject has none.
func (e *Engine) persistedStatus(ctx context.Context, subject string) (Status, error) {
	values, err := e.factValues(ctx, subject, knowledge.PredStatus)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return StatusPending, nil
	}
	return Status(values[0]), nil
}
