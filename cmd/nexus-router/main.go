// Package main provides the nexus-router command line interface.
//
// Each subcommand reads a JSON request document, executes the matching tool
// operation against the SQLite event store, and prints the JSON response on
// stdout. Logs go to stderr so stdout stays machine-readable.
//
//	nexus-router run -request run.json -db nexus.db -adapter-config tool.yaml
//	nexus-router inspect -request inspect.json
//	nexus-router replay -request replay.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	nexusrouter "github.com/nexus-io/nexus-router"
	"github.com/nexus-io/nexus-router/internal/config"
)

// Version information.
const (
	version = "0.2.0-dev"
	name    = "nexus-router"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	command := flag.Arg(0)

	var err error

	switch command {
	case "run":
		err = runCommand(logger, flag.Args()[1:])
	case "inspect":
		err = inspectCommand(flag.Args()[1:])
	case "replay":
		err = replayCommand(flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s v%s - tool-call orchestrator with event-sourced auditability

Usage:
  %s [-version] <command> [flags]

Commands:
  run      execute a run request and record its audit events
  inspect  summarize stored runs
  replay   reconstruct a run from events and check invariants

Common flags:
  -request <file>         JSON request document (required)
  -db <path>              SQLite database path (run only; default %q)
  -adapter-config <file>  YAML subprocess adapter config (run only)
`, name, version, name, nexusrouter.DefaultDBPath)
}

func runCommand(logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	requestPath := flags.String("request", "", "JSON run request file")
	dbPath := flags.String("db", nexusrouter.DefaultDBPath, "SQLite database path")
	adapterConfigPath := flags.String("adapter-config", "", "YAML subprocess adapter config")

	if err := flags.Parse(args); err != nil {
		return err
	}

	req := &nexusrouter.Request{}
	if err := readRequest(*requestPath, req); err != nil {
		return err
	}

	opts := []nexusrouter.RunOption{nexusrouter.WithDBPath(*dbPath)}

	if *adapterConfigPath != "" {
		adapterConfig, err := LoadAdapterConfig(*adapterConfigPath)
		if err != nil {
			return err
		}

		adapter, err := adapterConfig.BuildAdapter()
		if err != nil {
			return err
		}

		logger.Info("Subprocess adapter configured",
			slog.String("adapter_id", adapter.AdapterID()),
		)

		opts = append(opts, nexusrouter.WithAdapter(adapter))
	}

	response, err := nexusrouter.Run(context.Background(), req, opts...)
	if err != nil {
		return err
	}

	return printResponse(response)
}

func inspectCommand(args []string) error {
	flags := flag.NewFlagSet("inspect", flag.ExitOnError)
	requestPath := flags.String("request", "", "JSON inspect request file")

	if err := flags.Parse(args); err != nil {
		return err
	}

	req := &nexusrouter.InspectRequest{}
	if err := readRequest(*requestPath, req); err != nil {
		return err
	}

	report, err := nexusrouter.Inspect(context.Background(), req)
	if err != nil {
		return err
	}

	return printResponse(report)
}

func replayCommand(args []string) error {
	flags := flag.NewFlagSet("replay", flag.ExitOnError)
	requestPath := flags.String("request", "", "JSON replay request file")

	if err := flags.Parse(args); err != nil {
		return err
	}

	req := &nexusrouter.ReplayRequest{}
	if err := readRequest(*requestPath, req); err != nil {
		return err
	}

	result, err := nexusrouter.Replay(context.Background(), req)
	if err != nil {
		return err
	}

	return printResponse(result)
}

// readRequest loads and decodes the JSON request document into target.
func readRequest(path string, target any) error {
	if path == "" {
		return fmt.Errorf("missing required flag: -request")
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied flag
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse request file: %w", err)
	}

	return nil
}

// printResponse writes the JSON response on stdout.
func printResponse(response any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(response)
}
