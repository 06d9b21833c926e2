// Package factory stamps out agents from named templates and manages their
// registration lifecycle. An agent only reaches the registry after it has
// initialized successfully.
package factory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicholaskb/semant/pkg/agent"
	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/errors"
	"github.com/nicholaskb/semant/pkg/knowledge"
	"github.com/nicholaskb/semant/pkg/registry"
)

// Template describes how to build one kind of agent.
type Template struct {
	Name         string
	Capabilities []capability.Capability
	Handler      agent.Handler
	InitFn       agent.InitFunc
}

func (t Template) validate() error {
	if t.Name == "" {
		return errors.New(errors.CodeValidation, "template name is required", nil)
	}
	if t.Handler == nil {
		return errors.New(errors.CodeValidation, "template handler is required", nil).
			WithContext("template", t.Name)
	}
	for _, c := range t.Capabilities {
		if !c.Type.Valid() {
			return errors.New(errors.CodeValidation, "unknown capability type", nil).
				WithContext("template", t.Name).
				WithContext("type", string(c.Type))
		}
	}
	return nil
}

// Factory builds agents from templates and registers them.
type Factory struct {
	mu        sync.RWMutex
	templates map[string]Template

	registry *registry.Registry
	store    *knowledge.Store
	tracer   trace.Tracer
}

// New creates a factory bound to a registry. store may be nil; when set,
// created agents share it and record their handshake triple on init.
func New(r *registry.Registry, store *knowledge.Store) *Factory {
	return &Factory{
		templates: make(map[string]Template),
		registry:  r,
		store:     store,
		tracer:    otel.Tracer("semant/factory"),
	}
}

// RegisterTemplate stores a template under its name. Re-registering a name
// overwrites the previous template; existing agents keep the behavior they
// were built with.
func (f *Factory) RegisterTemplate(t Template) error {
	if err := t.validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[t.Name] = t
	return nil
}

// Template returns the template registered under name.
func (f *Factory) Template(name string) (Template, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.templates[name]
	if !ok {
		return Template{}, errors.New(errors.CodeNotFound, "template not registered", nil).
			WithContext("template", name)
	}
	return t, nil
}

// Templates returns the registered template names, sorted.
func (f *Factory) Templates() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.templates))
	for name := range f.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateAgent builds an agent from the named template, initializes it, and
// registers it. extraCaps are seeded alongside the template's capabilities.
// Failure at any stage leaves the registry untouched; an agent that
// initialized but lost the registration race is terminated so it cannot
// linger half-alive.
func (f *Factory) CreateAgent(ctx context.Context, templateName, agentID string, extraCaps ...capability.Capability) (*agent.Agent, error) {
	ctx, span := f.tracer.Start(ctx, "Factory.CreateAgent", trace.WithAttributes(
		attribute.String("template", templateName),
		attribute.String("agent.id", agentID),
	))
	defer span.End()

	tmpl, err := f.Template(templateName)
	if err != nil {
		return nil, err
	}
	for _, c := range extraCaps {
		if !c.Type.Valid() {
			return nil, errors.New(errors.CodeValidation, "unknown capability type", nil).
				WithContext("agent_id", agentID).
				WithContext("type", string(c.Type))
		}
	}

	caps := append(append([]capability.Capability{}, tmpl.Capabilities...), extraCaps...)
	opts := []agent.Option{
		agent.WithHandler(tmpl.Handler),
		agent.WithCapabilities(caps...),
	}
	if tmpl.InitFn != nil {
		opts = append(opts, agent.WithInitFunc(tmpl.InitFn))
	}
	if f.store != nil {
		opts = append(opts, agent.WithKnowledgeStore(f.store))
	}

	a, err := agent.New(agentID, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	if err := f.registry.Register(ctx, a); err != nil {
		a.Terminate()
		return nil, err
	}

	slog.InfoContext(ctx, "factory.agent.created",
		slog.String("template", templateName),
		slog.String("agent_id", agentID),
	)
	return a, nil
}

// DestroyAgent terminates the agent and removes it from the registry.
func (f *Factory) DestroyAgent(ctx context.Context, id string) error {
	a, err := f.registry.Get(id)
	if err != nil {
		return err
	}
	if term, ok := a.(interface{ Terminate() }); ok {
		term.Terminate()
	}
	if err := f.registry.Unregister(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "factory.agent.destroyed", slog.String("agent_id", id))
	return nil
}
