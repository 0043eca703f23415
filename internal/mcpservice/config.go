// Package mcpservice implements one downstream tool-provider session (MCP
// Service) and the pool that aggregates many of them into a single namespaced
// tool catalog (MCP Service Manager).
//
// Connections to downstream servers are built on the official
// github.com/modelcontextprotocol/go-sdk client transports, the same SDK the
// teacher's own internal/mcp/mcphost host uses for stdio and streamable-HTTP
// servers; this package adds the sse transport and the reconnect/ping
// lifecycle the teacher's host did not need.
package mcpservice

import "strings"

// Transport identifies how a [ServiceConfig] reaches its downstream server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is one of the recognized transport kinds.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportStreamableHTTP:
		return true
	default:
		return false
	}
}

// PingConfig controls a service's liveness-ping subsystem.
type PingConfig struct {
	// Enabled turns the ping loop on. Default true.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// IntervalMs is the delay between pings once started. Default 60000.
	IntervalMs int `yaml:"interval" json:"interval"`
	// StartDelayMs is the delay after a successful connect before the first
	// ping is sent. Default 5000.
	StartDelayMs int `yaml:"startDelay" json:"startDelay"`
}

// DefaultPingConfig returns the ping subsystem's documented defaults:
// enabled, 60s interval, 5s start delay.
func DefaultPingConfig() PingConfig {
	return PingConfig{Enabled: true, IntervalMs: 60_000, StartDelayMs: 5_000}
}

// ServiceConfig is the Downstream Service Config: everything needed to
// connect to one downstream MCP server. Transport is either declared
// explicitly or inferred by [ServiceConfig.ResolvedTransport].
type ServiceConfig struct {
	Name string `yaml:"name" json:"name"`

	// Transport, if non-empty, overrides inference entirely.
	Transport Transport `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Command is the executable (optionally followed by arguments split on
	// spaces, matching the teacher's own splitCommand convention) for a
	// stdio server. Its presence infers TransportStdio when Transport is
	// unset.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// URL is the endpoint for sse and streamable-http servers.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	APIKey  string            `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`

	Ping *PingConfig `yaml:"ping,omitempty" json:"ping,omitempty"`
}

// ResolvedTransport returns the transport ServiceConfig should connect with,
// applying the inference order: an explicit Transport wins; otherwise a
// non-empty Command implies stdio; otherwise a URL whose path ends in "/sse"
// implies sse; otherwise streamable-http.
func (c ServiceConfig) ResolvedTransport() Transport {
	if c.Transport.IsValid() {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	if urlPathEndsInSSE(c.URL) {
		return TransportSSE
	}
	return TransportStreamableHTTP
}

// urlPathEndsInSSE reports whether rawURL's path component ends in "/sse",
// case-sensitively, ignoring any trailing query string or fragment.
func urlPathEndsInSSE(rawURL string) bool {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, "/sse")
}

// ResolvedPing returns c.Ping, or [DefaultPingConfig] if unset.
func (c ServiceConfig) ResolvedPing() PingConfig {
	if c.Ping == nil {
		return DefaultPingConfig()
	}
	return *c.Ping
}

// splitCommand splits a command string into an executable and its
// arguments, matching the teacher's own convention in mcphost.
func splitCommand(command string) (executable string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
