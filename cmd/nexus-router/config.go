package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	nexusrouter "github.com/nexus-io/nexus-router"
)

// Duration parses YAML values like "45s" or "2m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}

	*d = Duration(parsed)

	return nil
}

// AdapterConfig describes the external tool adapter loaded from a YAML file.
//
// A minimal file names only the base command:
//
//	base_cmd: ["python", "-m", "my_tool.cli"]
//
// Everything else is optional:
//
//	adapter_id: subprocess:my-tool
//	timeout: 45s
//	cwd: /opt/my-tool
//	env:
//	  MY_TOOL_TOKEN: secret
//	rate_limit_per_sec: 4
type AdapterConfig struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	BaseCmd []string `yaml:"base_cmd"`
	//nolint:tagliatelle
	AdapterID string            `yaml:"adapter_id"`
	Timeout   Duration          `yaml:"timeout"`
	Cwd       string            `yaml:"cwd"`
	Env       map[string]string `yaml:"env"`
	//nolint:tagliatelle
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
}

// ErrAdapterBaseCmdMissing is returned when the adapter config file omits the
// base command.
var ErrAdapterBaseCmdMissing = errors.New("adapter config: base_cmd must not be empty")

// LoadAdapterConfig reads and parses the adapter config file at path. Unlike
// optional configuration, an unreadable or invalid adapter file is an error:
// the operator asked for a real adapter and silently falling back to the null
// adapter would fake apply-mode results.
func LoadAdapterConfig(path string) (*AdapterConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied flag
	if err != nil {
		return nil, fmt.Errorf("read adapter config: %w", err)
	}

	cfg := &AdapterConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse adapter config: %w", err)
	}

	if len(cfg.BaseCmd) == 0 {
		return nil, ErrAdapterBaseCmdMissing
	}

	return cfg, nil
}

// BuildAdapter constructs the subprocess adapter described by the config.
func (c *AdapterConfig) BuildAdapter() (nexusrouter.Adapter, error) {
	opts := []nexusrouter.SubprocessOption{}

	if c.AdapterID != "" {
		opts = append(opts, nexusrouter.WithSubprocessID(c.AdapterID))
	}

	if c.Timeout > 0 {
		opts = append(opts, nexusrouter.WithSubprocessTimeout(time.Duration(c.Timeout)))
	}

	if c.Cwd != "" {
		opts = append(opts, nexusrouter.WithWorkDir(c.Cwd))
	}

	if len(c.Env) > 0 {
		opts = append(opts, nexusrouter.WithEnv(c.Env))
	}

	if c.RateLimitPerSec > 0 {
		limiter := rate.NewLimiter(rate.Limit(c.RateLimitPerSec), 1)
		opts = append(opts, nexusrouter.WithRateLimit(limiter))
	}

	return nexusrouter.NewSubprocessAdapter(c.BaseCmd, opts...)
}
