// Command semant validates and runs workflow definitions against a local
// orchestration core: knowledge store, agent registry, and workflow engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicholaskb/semant/pkg/config"
	"github.com/nicholaskb/semant/pkg/telemetry"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	JSON       bool
	Timeout    time.Duration
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	switch args[0] {
	case "validate":
		runValidate(global, args[1:])
	case "run":
		runRun(ctx, global, cfg, args[1:])
	case "version":
		fmt.Printf("semant %s\n", version)
	case "help":
		printUsage()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var global globalFlags
	fs := flag.NewFlagSet("semant", flag.ContinueOnError)
	fs.StringVar(&global.ConfigPath, "config", "", "path to config file (YAML)")
	fs.BoolVar(&global.JSON, "json", false, "print machine-readable output")
	fs.DurationVar(&global.Timeout, "timeout", 5*time.Minute, "overall run deadline")
	fs.BoolVar(&global.Help, "help", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return global, nil, err
	}
	return global, fs.Args(), nil
}

func printUsage() {
	fmt.Println(`semant - capability-routed workflow runner

Usage:
  semant [flags] <command> [args]

Commands:
  validate <file>   load a workflow definition and check its DAG
  run <file>        execute a workflow definition with echo agents
  version           print version
  help              show this help

Flags:
  -config string    path to config file (YAML)
  -json             machine-readable output
  -timeout duration overall run deadline (default 5m)`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
