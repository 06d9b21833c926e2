package factory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/nicholaskb/semant/pkg/agent"
	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/core"
	"github.com/nicholaskb/semant/pkg/errors"
	"github.com/nicholaskb/semant/pkg/graph"
	"github.com/nicholaskb/semant/pkg/knowledge"
	"github.com/nicholaskb/semant/pkg/registry"
)

func okHandler(ctx context.Context, msg core.Message) (core.Message, error) {
	return core.NewReply(msg, msg.RecipientID, "done"), nil
}

func reviewTemplate() Template {
	return Template{
		Name:         "reviewer",
		Capabilities: []capability.Capability{capability.New(capability.CodeReview, "1.0")},
		Handler:      okHandler,
	}
}

func TestRegisterTemplateValidation(t *testing.T) {
	f := New(registry.New(), nil)

	if err := f.RegisterTemplate(Template{Handler: okHandler}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}
	if err := f.RegisterTemplate(Template{Name: "x"}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for missing handler, got %v", err)
	}
	bad := reviewTemplate()
	bad.Capabilities = []capability.Capability{{Type: "nope", Version: "1.0"}}
	if err := f.RegisterTemplate(bad); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for bad capability, got %v", err)
	}
}

func TestRegisterTemplateOverwrite(t *testing.T) {
	f := New(registry.New(), nil)
	if err := f.RegisterTemplate(reviewTemplate()); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	updated := reviewTemplate()
	updated.Capabilities = []capability.Capability{capability.New(capability.CodeReview, "2.0")}
	if err := f.RegisterTemplate(updated); err != nil {
		t.Fatalf("RegisterTemplate overwrite: %v", err)
	}

	got, err := f.Template("reviewer")
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if got.Capabilities[0].Version != "2.0" {
		t.Fatalf("overwrite did not take: %+v", got.Capabilities)
	}
}

func TestCreateAgent(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	store, err := knowledge.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	f := New(r, store)
	if err := f.RegisterTemplate(reviewTemplate()); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	a, err := f.CreateAgent(ctx, "reviewer", "rev-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if got := a.Status(); got != core.StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}
	if got := r.FindByCapability(capability.CodeReview, ""); len(got) != 1 || got[0].ID() != "rev-1" {
		t.Fatalf("agent not routable: %v", got)
	}
	handshake := graph.Triple{
		Subject:   knowledge.AgentSubject("rev-1"),
		Predicate: knowledge.PredStatus,
		Object:    graph.Literal("idle"),
	}
	if !store.Contains(handshake) {
		t.Fatalf("handshake triple missing")
	}
}

func TestCreateAgentExtraCapabilities(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	f := New(r, nil)
	if err := f.RegisterTemplate(reviewTemplate()); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	a, err := f.CreateAgent(ctx, "reviewer", "rev-1", capability.New(capability.Research, "1.2"))
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	var seeded bool
	for _, c := range a.Capabilities() {
		if c.Type == capability.Research {
			seeded = true
		}
	}
	if !seeded {
		t.Fatalf("extra capability not seeded: %v", a.Capabilities())
	}
	if got := r.FindByCapability(capability.Research, "1.0"); len(got) != 1 {
		t.Fatalf("extra capability not routable: %v", got)
	}

	bad := capability.Capability{Type: "nope", Version: "1.0"}
	if _, err := f.CreateAgent(ctx, "reviewer", "rev-2", bad); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for bad extra capability, got %v", err)
	}
}

func TestCreateAgentUnknownTemplate(t *testing.T) {
	f := New(registry.New(), nil)
	if _, err := f.CreateAgent(context.Background(), "ghost", "g-1"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCreateAgentInitFailureNotRegistered(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	f := New(r, nil)

	failing := reviewTemplate()
	failing.Name = "broken"
	failing.InitFn = func(ctx context.Context, _ *agent.Agent) error {
		return fmt.Errorf("no backend")
	}
	if err := f.RegisterTemplate(failing); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	if _, err := f.CreateAgent(ctx, "broken", "b-1"); !errors.IsCode(err, errors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if _, err := r.Get("b-1"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("failed agent must not be registered, got %v", err)
	}
}

func TestCreateAgentDuplicateID(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	f := New(r, nil)
	if err := f.RegisterTemplate(reviewTemplate()); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	if _, err := f.CreateAgent(ctx, "reviewer", "rev-1"); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	loser, err := f.CreateAgent(ctx, "reviewer", "rev-1")
	if !errors.IsCode(err, errors.CodeDuplicateID) {
		t.Fatalf("expected duplicate-id, got %v", err)
	}
	if loser != nil {
		t.Fatalf("loser agent should not be returned")
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	f := New(r, nil)
	if err := f.RegisterTemplate(reviewTemplate()); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	const goroutines = 12
	var wg sync.WaitGroup
	results := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.CreateAgent(ctx, "reviewer", "contested")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.IsCode(err, errors.CodeDuplicateID) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	if r.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", r.Len())
	}
}

func TestDestroyAgent(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	f := New(r, nil)
	if err := f.RegisterTemplate(reviewTemplate()); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}
	a, err := f.CreateAgent(ctx, "reviewer", "rev-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	if err := f.DestroyAgent(ctx, "rev-1"); err != nil {
		t.Fatalf("DestroyAgent: %v", err)
	}
	if got := a.Status(); got != core.StatusTerminated {
		t.Fatalf("status = %q, want terminated", got)
	}
	if err := f.DestroyAgent(ctx, "rev-1"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("second destroy: expected not-found, got %v", err)
	}
}
