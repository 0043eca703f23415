package mcpservice

import "testing"

func TestResolvedTransport_ExplicitWins(t *testing.T) {
	cfg := ServiceConfig{Transport: TransportSSE, Command: "foo"}
	if got := cfg.ResolvedTransport(); got != TransportSSE {
		t.Errorf("ResolvedTransport() = %q, want sse", got)
	}
}

func TestResolvedTransport_CommandImpliesStdio(t *testing.T) {
	cfg := ServiceConfig{Command: "/usr/local/bin/server"}
	if got := cfg.ResolvedTransport(); got != TransportStdio {
		t.Errorf("ResolvedTransport() = %q, want stdio", got)
	}
}

func TestResolvedTransport_URLEndingInSSE(t *testing.T) {
	cases := []struct {
		url  string
		want Transport
	}{
		{"https://example.com/mcp/sse", TransportSSE},
		{"https://example.com/mcp/sse?token=abc", TransportSSE},
		{"https://example.com/mcp/sse#frag", TransportSSE},
		{"https://example.com/mcp/SSE", TransportStreamableHTTP}, // case-sensitive
		{"https://example.com/mcp", TransportStreamableHTTP},
	}
	for _, c := range cases {
		cfg := ServiceConfig{URL: c.url}
		if got := cfg.ResolvedTransport(); got != c.want {
			t.Errorf("ResolvedTransport(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestResolvedTransport_DefaultsToStreamableHTTP(t *testing.T) {
	cfg := ServiceConfig{URL: "https://example.com/mcp"}
	if got := cfg.ResolvedTransport(); got != TransportStreamableHTTP {
		t.Errorf("ResolvedTransport() = %q, want streamable-http", got)
	}
}

func TestResolvedPing_DefaultsWhenUnset(t *testing.T) {
	cfg := ServiceConfig{}
	ping := cfg.ResolvedPing()
	want := DefaultPingConfig()
	if ping != want {
		t.Errorf("ResolvedPing() = %+v, want %+v", ping, want)
	}
}

func TestResolvedPing_HonorsExplicit(t *testing.T) {
	explicit := PingConfig{Enabled: false, IntervalMs: 1000, StartDelayMs: 0}
	cfg := ServiceConfig{Ping: &explicit}
	if got := cfg.ResolvedPing(); got != explicit {
		t.Errorf("ResolvedPing() = %+v, want %+v", got, explicit)
	}
}
