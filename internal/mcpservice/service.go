package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mcpfleet/internal/resilience"
)

// ConnectionState is the lifecycle state of a [Service].
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateFailed       ConnectionState = "FAILED"
)

// defaultConnectTimeout bounds a single connect() attempt, matching the
// documented per-service default.
const defaultConnectTimeout = 10 * time.Second

var (
	// ErrConnectInProgress is returned by connect() when the service is
	// already CONNECTING.
	ErrConnectInProgress = errors.New("mcpservice: connect already in progress")
	// ErrNotConnected is returned by CallTool (and by the ping loop) when
	// the service has no live session.
	ErrNotConnected = errors.New("mcpservice: service not connected")
	// ErrToolNotFound is returned by callTool when originalName is not in
	// the cached tool catalog.
	ErrToolNotFound = errors.New("mcpservice: tool not found")
)

// ToolDescriptor is the cached, un-namespaced shape of one downstream tool.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema any
}

// Status is the snapshot returned by [Service.GetStatus].
type Status struct {
	Name            string
	Connected       bool
	Initialized     bool
	TransportType   Transport
	ToolCount       int
	ConnectionState ConnectionState
	PingEnabled     bool
	IsPinging       bool
	LastPingTime    time.Time
}

// ConnectionFailedEvent is published (outside this package, by the owning
// [ServiceManager]) when connect() fails.
type ConnectionFailedEvent struct {
	ServiceName string
	Error       error
	Attempt     int
}

// Service manages one downstream tool-provider session: connect, list
// tools, call tool, ping, reconnect. The zero value is not usable; build
// with [NewService].
type Service struct {
	cfg ServiceConfig

	mu         sync.RWMutex
	state      ConnectionState
	session    *mcpsdk.ClientSession
	tools      map[string]ToolDescriptor
	lastPingAt time.Time
	isPinging  bool

	pingStop chan struct{}
	pingWG   sync.WaitGroup

	client  *mcpsdk.Client
	breaker *resilience.CircuitBreaker
}

// NewService constructs a Service for cfg. It does not connect.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:   cfg,
		state: StateDisconnected,
		tools: make(map[string]ToolDescriptor),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "mcpfleet", Version: "1.0.0"},
			nil,
		),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: cfg.Name}),
	}
}

// Name returns the configured service name.
func (s *Service) Name() string { return s.cfg.Name }

// Connect builds the downstream transport per the config's declared or
// inferred type, completes the MCP initialize handshake, lists tools, and
// caches the resulting descriptors. It is idempotent: a no-op while already
// CONNECTED, and fails with [ErrConnectInProgress] while already CONNECTING.
// Bounded by a per-service timeout (default 10s). On any failure the service
// returns to DISCONNECTED so a caller may retry.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	case StateConnected:
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	transport, err := s.buildTransport(ctx)
	if err != nil {
		s.fail()
		return fmt.Errorf("mcpservice: build transport for %q: %w", s.cfg.Name, err)
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		s.fail()
		return fmt.Errorf("mcpservice: connect to %q: %w", s.cfg.Name, err)
	}

	tools := make(map[string]ToolDescriptor)
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			s.fail()
			return fmt.Errorf("mcpservice: list tools for %q: %w", s.cfg.Name, err)
		}
		tools[tool.Name] = ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
	}

	s.mu.Lock()
	s.session = session
	s.tools = tools
	s.state = StateConnected
	s.mu.Unlock()

	s.startPing()

	return nil
}

func (s *Service) fail() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
}

func (s *Service) buildTransport(ctx context.Context) (mcpsdk.Transport, error) {
	switch s.cfg.ResolvedTransport() {
	case TransportStdio:
		executable, args := s.cfg.Command, s.cfg.Args
		if len(args) == 0 {
			executable, args = splitCommand(s.cfg.Command)
		}
		if executable == "" {
			return nil, fmt.Errorf("stdio service %q requires a non-empty command", s.cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range s.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	case TransportStreamableHTTP:
		if s.cfg.URL == "" {
			return nil, fmt.Errorf("streamable-http service %q requires a non-empty url", s.cfg.Name)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: s.cfg.URL}, nil

	case TransportSSE:
		if s.cfg.URL == "" {
			return nil, fmt.Errorf("sse service %q requires a non-empty url", s.cfg.Name)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: s.cfg.URL}, nil

	default:
		return nil, fmt.Errorf("unknown transport for service %q", s.cfg.Name)
	}
}

// Disconnect releases the transport. The tool cache is retained read-only
// until the next successful Connect.
func (s *Service) Disconnect() error {
	s.stopPing()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		err := s.session.Close()
		s.session = nil
		s.state = StateDisconnected
		return err
	}
	s.state = StateDisconnected
	return nil
}

// ListTools returns the cached tool catalog.
func (s *Service) ListTools() []ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out
}

// HasTool reports whether originalName is in the cached catalog.
func (s *Service) HasTool(originalName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[originalName]
	return ok
}

// CallTool invokes originalName with args. The service must be CONNECTED
// and the tool must exist in the cached catalog; the downstream result is
// returned verbatim and transport errors are forwarded unwrapped-adjacent
// (wrapped only with the service name for context).
//
// The actual downstream call is guarded by a per-service [resilience.CircuitBreaker]
// so a tool-provider that starts failing every call stops being hammered
// with round-trips it cannot answer; once the breaker opens, calls fail
// fast with [resilience.ErrCircuitOpen] until its reset timeout elapses.
func (s *Service) CallTool(ctx context.Context, originalName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	s.mu.RLock()
	session := s.session
	state := s.state
	_, known := s.tools[originalName]
	s.mu.RUnlock()

	if state != StateConnected || session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, s.cfg.Name)
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, originalName)
	}

	var result *mcpsdk.CallToolResult
	err := s.breaker.Execute(func() error {
		r, callErr := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      originalName,
			Arguments: args,
		})
		result = r
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("mcpservice: call %q on %q: %w", originalName, s.cfg.Name, err)
	}
	return result, nil
}

// GetStatus returns a snapshot of the service's current lifecycle state.
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ping := s.cfg.ResolvedPing()
	return Status{
		Name:            s.cfg.Name,
		Connected:       s.state == StateConnected,
		Initialized:     s.session != nil,
		TransportType:   s.cfg.ResolvedTransport(),
		ToolCount:       len(s.tools),
		ConnectionState: s.state,
		PingEnabled:     ping.Enabled,
		IsPinging:       s.isPinging,
		LastPingTime:    s.lastPingAt,
	}
}

// startPing launches the ping loop if enabled. No-op if already enabled
// and running, or if disabled.
func (s *Service) startPing() {
	ping := s.cfg.ResolvedPing()
	if !ping.Enabled {
		return
	}

	s.mu.Lock()
	if s.isPinging {
		s.mu.Unlock()
		return
	}
	s.isPinging = true
	s.pingStop = make(chan struct{})
	stop := s.pingStop
	s.mu.Unlock()

	s.pingWG.Add(1)
	go func() {
		defer s.pingWG.Done()
		select {
		case <-time.After(time.Duration(ping.StartDelayMs) * time.Millisecond):
		case <-stop:
			return
		}

		ticker := time.NewTicker(time.Duration(ping.IntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.ping(); err != nil {
					slog.Warn("mcpservice: ping failed", "service", s.cfg.Name, "error", err)
					s.mu.Lock()
					s.state = StateDisconnected
					s.isPinging = false
					s.mu.Unlock()
					return
				}
			}
		}
	}()
}

func (s *Service) stopPing() {
	s.mu.Lock()
	if !s.isPinging {
		s.mu.Unlock()
		return
	}
	s.isPinging = false
	close(s.pingStop)
	s.mu.Unlock()
	s.pingWG.Wait()
}

func (s *Service) ping() error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()
	if session == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := session.Ping(ctx, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
	return nil
}
