// Package config defines the configuration schema consumed by mcpfleet's
// core: the Endpoint Manager's options schema and the [ConfigManager]
// interface through which the persisted endpoint list and downstream
// service descriptors are reached.
//
// Parsing, validation, and hot-reload dispatch of a *top-level* application
// config file, and any concrete [ConfigManager] backed by a file or
// database, are explicitly out of scope for the core (an external
// collaborator); this package only defines the shapes and the strict-decode
// convention used for the schema the core does own (Endpoint Manager
// options).
package config

import "github.com/MrWong99/mcpfleet/internal/mcpservice"

// ConfigManager is the external collaborator that owns persisted endpoint
// state. The core never parses or writes a config file itself; it calls
// through this interface so any storage backend (file, database, remote
// service) can supply the endpoint list and downstream service set.
type ConfigManager interface {
	// GetMcpEndpoints returns the currently persisted endpoint URLs.
	GetMcpEndpoints() []string

	// AddMcpEndpoint persists url. It must fail if url is already present.
	AddMcpEndpoint(url string) error

	// RemoveMcpEndpoint removes url from the persisted list. It must be a
	// no-op (not an error) if url is not present.
	RemoveMcpEndpoint(url string) error

	// GetMcpServers returns the currently configured downstream MCP service
	// descriptors.
	GetMcpServers() []mcpservice.ServiceConfig
}

// EndpointManagerOptions holds the Endpoint Manager's tunable reconnect and
// fleet-reconnect-delay parameters. Zero-valued fields whose minimum
// exceeds zero are replaced by [DefaultEndpointManagerOptions] in
// [LoadOptions]; an explicitly set field is distinguished from an absent
// one only at the YAML-decode layer (unknown keys are rejected there, not
// here).
type EndpointManagerOptions struct {
	// ReconnectIntervalMs is the delay before the first reconnect attempt
	// after a connect failure. Minimum 100, default 5000.
	ReconnectIntervalMs int `yaml:"reconnectInterval"`

	// MaxReconnectAttempts caps how many reconnect attempts are made before
	// an endpoint is declared FAILED. Minimum 0, default 3.
	MaxReconnectAttempts int `yaml:"maxReconnectAttempts"`

	// ConnectionTimeoutMs bounds how long a single connect attempt may run.
	// Minimum 1000, default 10000.
	ConnectionTimeoutMs int `yaml:"connectionTimeout"`

	// ErrorRecoveryEnabled toggles automatic reconnect on failure. Default true.
	ErrorRecoveryEnabled bool `yaml:"errorRecoveryEnabled"`

	// ErrorNotificationEnabled toggles emission of failure events. Default true.
	ErrorNotificationEnabled bool `yaml:"errorNotificationEnabled"`

	// ServiceAddedDelayMs is the settle delay before a fleet reconnect
	// triggered by mcp:server:added. Minimum 0, default 2000.
	ServiceAddedDelayMs int `yaml:"serviceAddedDelayMs"`

	// ServiceRemovedDelayMs is the settle delay before a fleet reconnect
	// triggered by mcp:server:removed. Minimum 0, default 2000.
	ServiceRemovedDelayMs int `yaml:"serviceRemovedDelayMs"`

	// BatchAddedDelayMs is the settle delay before a fleet reconnect
	// triggered by mcp:server:batch_added. Minimum 0, default 3000.
	BatchAddedDelayMs int `yaml:"batchAddedDelayMs"`
}

// DefaultEndpointManagerOptions returns the options schema's documented
// default values.
func DefaultEndpointManagerOptions() EndpointManagerOptions {
	return EndpointManagerOptions{
		ReconnectIntervalMs:      5000,
		MaxReconnectAttempts:     3,
		ConnectionTimeoutMs:      10000,
		ErrorRecoveryEnabled:     true,
		ErrorNotificationEnabled: true,
		ServiceAddedDelayMs:      2000,
		ServiceRemovedDelayMs:    2000,
		BatchAddedDelayMs:        3000,
	}
}
