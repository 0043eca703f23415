package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/mcpfleet/internal/config"
	"github.com/MrWong99/mcpfleet/internal/mcpservice"
)

// AppConfig is mcpfleetd's top-level YAML configuration: the process
// listen address, the upstream endpoint URLs it dials over WebSocket, the
// downstream MCP services it aggregates, and the Endpoint Manager's
// tunable options.
type AppConfig struct {
	ListenAddr string                        `yaml:"listenAddr"`
	LogLevel   string                        `yaml:"logLevel"`
	Endpoints  []string                      `yaml:"endpoints"`
	Servers    []mcpservice.ServiceConfig    `yaml:"servers"`
	Options    config.EndpointManagerOptions `yaml:"options"`
}

// loadAppConfig reads and strict-decodes path as YAML, applying the
// Endpoint Manager options schema's documented defaults and validating the
// result.
func loadAppConfig(path string) (*AppConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mcpfleetd: open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := AppConfig{Options: config.DefaultEndpointManagerOptions()}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("mcpfleetd: decode config %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	defaults := config.DefaultEndpointManagerOptions()
	opts := cfg.Options
	if opts.ReconnectIntervalMs == 0 {
		opts.ReconnectIntervalMs = defaults.ReconnectIntervalMs
	}
	if opts.ConnectionTimeoutMs == 0 {
		opts.ConnectionTimeoutMs = defaults.ConnectionTimeoutMs
	}
	if err := config.ValidateOptions(opts); err != nil {
		return nil, fmt.Errorf("mcpfleetd: invalid options in %s: %w", path, err)
	}
	cfg.Options = opts

	return &cfg, nil
}
