package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/config"
	"github.com/nicholaskb/semant/pkg/core"
	"github.com/nicholaskb/semant/pkg/factory"
	"github.com/nicholaskb/semant/pkg/knowledge"
	"github.com/nicholaskb/semant/pkg/registry"
	"github.com/nicholaskb/semant/pkg/telemetry"
	"github.com/nicholaskb/semant/pkg/workflow"
)

// runRun executes a workflow definition with one echo agent per capability
// the definition requires. It exercises the full store/registry/engine path
// without needing real domain agents.
func runRun(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: semant run <file>"))
	}
	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	def, err := workflow.Load(args[0])
	if err != nil {
		fatal(err)
	}
	steps, err := def.Compile()
	if err != nil {
		fatal(err)
	}

	shutdown, err := telemetry.InitWithConfig("semant", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	store, err := buildStore(cfg)
	if err != nil {
		fatal(err)
	}

	policy, err := registry.ParsePolicy(cfg.Registry.Policy)
	if err != nil {
		fatal(err)
	}
	engineMetrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		fatal(err)
	}
	reg := registry.New(registry.WithPolicy(policy), registry.WithMetrics(engineMetrics))
	monitor := registry.NewHealthMonitor(reg, cfg.Registry.FailureThreshold, 30*time.Second)

	if err := seedEchoAgents(ctx, reg, store, steps); err != nil {
		fatal(err)
	}

	engine := workflow.NewEngine(reg, store,
		workflow.WithConfig(workflow.Config{
			MaxRetries:     cfg.Workflow.MaxRetries,
			InitialDelay:   time.Duration(cfg.Workflow.InitialDelayMS) * time.Millisecond,
			MaxDelay:       time.Duration(cfg.Workflow.MaxDelayMS) * time.Millisecond,
			StepTimeout:    time.Duration(cfg.Workflow.StepTimeoutSecs) * time.Second,
			MaxConcurrency: cfg.Workflow.MaxConcurrency,
		}),
		workflow.WithMonitor(monitor),
		workflow.WithMetrics(engineMetrics),
	)

	id, err := engine.Create(ctx, def.ID, def.Name, steps)
	if err != nil {
		fatal(err)
	}
	result, err := engine.Execute(ctx, id)
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("workflow %s (%s): %s\n", def.Name, result.WorkflowID, result.Status)
	for _, stepID := range result.Committed {
		fmt.Printf("  committed %s -> %v\n", stepID, result.Outputs[stepID])
	}
	if result.FailedStep != "" {
		fmt.Printf("  failed %s: %s\n", result.FailedStep, result.LastError)
	}
}

func buildStore(cfg *config.Config) (*knowledge.Store, error) {
	storeMetrics, err := telemetry.NewStoreMetrics()
	if err != nil {
		return nil, err
	}
	opts := []knowledge.Option{
		knowledge.WithCacheSize(cfg.Store.CacheSize),
		knowledge.WithCacheTTL(time.Duration(cfg.Store.CacheTTLSecs) * time.Second),
		knowledge.WithHistoryLimit(cfg.Store.HistoryLimit),
		knowledge.WithMetrics(storeMetrics),
	}
	if cfg.Store.PersistEnabled && cfg.Store.SQLitePath != "" {
		db, err := knowledge.OpenDB(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		ledger, err := knowledge.NewSQLiteLedger(db)
		if err != nil {
			return nil, err
		}
		opts = append(opts, knowledge.WithPersistence(ledger))
	}
	return knowledge.NewStore(opts...)
}

// seedEchoAgents registers one echo agent per distinct capability the steps
// require.
func seedEchoAgents(ctx context.Context, reg *registry.Registry, store *knowledge.Store, steps []workflow.Step) error {
	f := factory.New(reg, store)

	seen := make(map[capability.Type]bool)
	for _, st := range steps {
		caps := []capability.Capability{st.Action.Capability}
		if st.Compensate != nil {
			caps = append(caps, st.Compensate.Capability)
		}
		for _, c := range caps {
			if seen[c.Type] {
				continue
			}
			seen[c.Type] = true

			name := "echo-" + string(c.Type)
			tmpl := factory.Template{
				Name:         name,
				Capabilities: []capability.Capability{{Type: c.Type, Version: orDefault(c.Version)}},
				Handler: func(ctx context.Context, msg core.Message) (core.Message, error) {
					return core.NewReply(msg, msg.RecipientID, msg.Content), nil
				},
			}
			if err := f.RegisterTemplate(tmpl); err != nil {
				return err
			}
			if _, err := f.CreateAgent(ctx, name, name+"-1"); err != nil {
				return err
			}
		}
	}
	return nil
}

func orDefault(version string) string {
	if version == "" {
		return "1.0"
	}
	return version
}
