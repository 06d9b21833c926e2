package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/core"
	"github.com/nicholaskb/semant/pkg/errors"
	"github.com/nicholaskb/semant/pkg/graph"
	"github.com/nicholaskb/semant/pkg/knowledge"
)

func echoHandler(ctx context.Context, msg core.Message) (core.Message, error) {
	return core.NewReply(msg, msg.RecipientID, msg.Content), nil
}

func newTestAgent(t *testing.T, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithHandler(echoHandler)}, opts...)
	a, err := New("agent-1", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", WithHandler(echoHandler)); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
	if _, err := New("a"); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for missing handler, got %v", err)
	}
	if _, err := New("a", WithHandler(echoHandler), WithHandler(echoHandler)); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for double handler, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t)

	if got := a.Status(); got != core.StatusUninitialized {
		t.Fatalf("status = %q, want uninitialized", got)
	}
	if _, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", "hi")); !errors.IsCode(err, errors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure before init, got %v", err)
	}

	if err := a.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	if got := a.Status(); got != core.StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}

	reply, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", "hi"))
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply.Type != core.MessageResponse || reply.Content != "hi" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if got := a.Status(); got != core.StatusIdle {
		t.Fatalf("status after processing = %q, want idle", got)
	}

	a.Terminate()
	if err := a.EnsureInitialized(ctx); err != nil {
		// already initialized; must stay a no-op
		t.Fatalf("EnsureInitialized after terminate: %v", err)
	}
	if got := a.Status(); got != core.StatusTerminated {
		t.Fatalf("terminated is absorbing, got %q", got)
	}
	if _, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", "hi")); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not-found for terminated agent, got %v", err)
	}
}

func TestEnsureInitializedOnce(t *testing.T) {
	var inits atomic.Int32
	a := newTestAgent(t, WithInitFunc(func(ctx context.Context, _ *Agent) error {
		inits.Add(1)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.EnsureInitialized(context.Background()); err != nil {
				t.Errorf("EnsureInitialized: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inits.Load(); got != 1 {
		t.Fatalf("init ran %d times, want 1", got)
	}
}

func TestInitFailure(t *testing.T) {
	a := newTestAgent(t, WithInitFunc(func(ctx context.Context, _ *Agent) error {
		return fmt.Errorf("boom")
	}))
	err := a.EnsureInitialized(context.Background())
	if !errors.IsCode(err, errors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	if got := a.Status(); got != core.StatusError {
		t.Fatalf("status = %q, want error", got)
	}
}

func TestHandlerErrorBecomesErrorReply(t *testing.T) {
	ctx := context.Background()
	a, err := New("agent-1", WithHandler(func(ctx context.Context, msg core.Message) (core.Message, error) {
		return core.Message{}, fmt.Errorf("handler failed")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	req := core.NewMessage("sys", "agent-1", "work")
	reply, err := a.ProcessMessage(ctx, req)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply.Type != core.MessageError || reply.InReplyTo != req.ID {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	// Handler errors are routine failures; the agent stays schedulable.
	if got := a.Status(); got != core.StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}
}

func TestPanicParksAgentInError(t *testing.T) {
	ctx := context.Background()
	a, err := New("agent-1", WithHandler(func(ctx context.Context, msg core.Message) (core.Message, error) {
		panic("unexpected")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	reply, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", "work"))
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if reply.Type != core.MessageError {
		t.Fatalf("expected error reply, got %+v", reply)
	}
	if got := a.Status(); got != core.StatusError {
		t.Fatalf("status = %q, want error", got)
	}

	if _, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", "more")); !errors.IsCode(err, errors.CodeAgentError) {
		t.Fatalf("expected agent error before recovery, got %v", err)
	}

	if err := a.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got := a.Status(); got != core.StatusIdle {
		t.Fatalf("status after recover = %q, want idle", got)
	}
	if err := a.Recover(); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error recovering idle agent, got %v", err)
	}
}

func TestCapabilityMutation(t *testing.T) {
	a := newTestAgent(t, WithCapabilities(capability.New(capability.CodeReview, "1.0")))

	caps, err := a.AddCapability(capability.New(capability.Research, "2.0"))
	if err != nil {
		t.Fatalf("AddCapability: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("caps = %v, want 2 entries", caps)
	}

	if _, err := a.AddCapability(capability.Capability{Type: "bogus", Version: "1.0"}); !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error for bogus type, got %v", err)
	}

	caps = a.RemoveCapability(capability.CodeReview)
	if len(caps) != 1 || caps[0].Type != capability.Research {
		t.Fatalf("caps after remove = %v", caps)
	}
}

func TestObservationDoesNotWaitOnHandler(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	a, err := New("agent-1",
		WithHandler(func(ctx context.Context, msg core.Message) (core.Message, error) {
			close(started)
			<-release
			return core.NewReply(msg, "agent-1", nil), nil
		}),
		WithCapabilities(capability.New(capability.CodeReview, "1.0")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", "work")); err != nil {
			t.Errorf("ProcessMessage: %v", err)
		}
	}()
	<-started

	observed := make(chan core.AgentStatus, 1)
	go func() {
		a.Capabilities()
		observed <- a.Status()
	}()
	select {
	case got := <-observed:
		if got != core.StatusBusy {
			t.Fatalf("status mid-handler = %q, want busy", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("status read blocked behind the in-flight handler")
	}

	// The monitor can force Error on the hung agent without waiting, and the
	// handler finishing must not overwrite it.
	a.MarkError()
	close(release)
	<-done
	if got := a.Status(); got != core.StatusError {
		t.Fatalf("status after forced error = %q, want error", got)
	}
}

func TestStoreHandshake(t *testing.T) {
	ctx := context.Background()
	store, err := knowledge.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	a := newTestAgent(t, WithKnowledgeStore(store))
	if err := a.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	want := graph.Triple{
		Subject:   knowledge.AgentSubject("agent-1"),
		Predicate: knowledge.PredStatus,
		Object:    graph.Literal("idle"),
	}
	if !store.Contains(want) {
		t.Fatalf("expected handshake triple %v in store", want)
	}
}

func TestSerializedProcessing(t *testing.T) {
	ctx := context.Background()
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	a, err := New("agent-1", WithHandler(func(ctx context.Context, msg core.Message) (core.Message, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		inFlight.Add(-1)
		return core.NewReply(msg, "agent-1", nil), nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.ProcessMessage(ctx, core.NewMessage("sys", "agent-1", nil)); err != nil {
				t.Errorf("ProcessMessage: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent handler invocations = %d, want 1", got)
	}
}
