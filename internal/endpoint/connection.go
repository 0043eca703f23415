// Package endpoint implements the Endpoint Connection (one WebSocket to an
// upstream caller, acting as the JSON-RPC callee) and the Endpoint Manager
// that supervises a fleet of them.
//
// The WebSocket client is built on github.com/coder/websocket, the same
// library the teacher's pkg/provider/s2s/openai session uses for its
// realtime connection; the JSON-RPC message shapes and reconnect backoff are
// grounded on ba9d0afb_diane-assistant-diane's ws_client.go reconnectLoop,
// adapted to JSON-RPC 2.0 request/response framing instead of that proxy's
// own envelope, and combined with the teacher's own circuit breaker idiom
// for the state machine.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mcpfleet/internal/jsonrpc"
	"github.com/MrWong99/mcpfleet/internal/mcpservice"
	"github.com/MrWong99/mcpfleet/internal/observe"
)

// unmarshalParams decodes raw into v, returning an error rather than
// panicking so a malformed params object becomes a JSON-RPC -32602 rather
// than crashing the read loop.
func unmarshalParams(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

// State is the lifecycle state of a [Connection].
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

// BackoffKind selects the reconnect interval growth strategy.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// ReconnectPolicy configures a Connection's automatic reconnect behavior.
type ReconnectPolicy struct {
	Enabled     bool
	MaxAttempts int
	Kind        BackoffKind
	Base        time.Duration
	Cap         time.Duration
	Multiplier  float64
	Jitter      float64 // fraction, e.g. 0.1 for ±10%

	// ConnectTimeout bounds a single connect attempt. Zero falls back to
	// defaultConnectTimeout, matching the options schema's own default.
	ConnectTimeout time.Duration
}

// DefaultReconnectPolicy returns the documented reconnect defaults:
// enabled, 10 max attempts, exponential backoff with multiplier 1.5, base
// 3s, cap 30s, ±10% jitter, 10s connect timeout.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:        true,
		MaxAttempts:    10,
		Kind:           BackoffExponential,
		Base:           3 * time.Second,
		Cap:            30 * time.Second,
		Multiplier:     1.5,
		Jitter:         0.1,
		ConnectTimeout: defaultConnectTimeout,
	}
}

// nextInterval computes the delay before reconnect attempt number attempt
// (1-indexed).
func (p ReconnectPolicy) nextInterval(attempt int) time.Duration {
	var d time.Duration
	switch p.Kind {
	case BackoffLinear:
		d = p.Base * time.Duration(attempt)
	case BackoffFixed:
		d = p.Base
	default: // exponential
		mult := 1.0
		for i := 1; i < attempt; i++ {
			mult *= p.Multiplier
		}
		d = time.Duration(float64(p.Base) * mult)
	}
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		delta := float64(d) * p.Jitter
		d = d + time.Duration((rand.Float64()*2-1)*delta)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Dispatcher is the subset of [mcpservice.ServiceManager] a Connection
// needs to serve inbound tools/list and tools/call requests. Defined as an
// interface so Connection never depends on the manager's full surface.
type Dispatcher interface {
	GetAllTools() []mcpservice.ToolEntry
	CallTool(ctx context.Context, qualifiedName string, args map[string]any) (any, error)
	SuggestForUnknownTool(qualifiedName string) []string
}

// TransitionEvent is emitted on every Connection state change.
type TransitionEvent struct {
	Endpoint  string
	Connected bool
	Operation string // "connect", "disconnect", "reconnect"
	Success   bool
	Message   string
	Timestamp time.Time
}

// PerformanceRecord is one entry in a Connection's bounded performance ring
// buffer.
type PerformanceRecord struct {
	ToolName   string
	DurationMs int64
	Success    bool
	Timestamp  time.Time
}

// maxPerformanceRecords bounds the ring buffer size.
const maxPerformanceRecords = 100

// defaultConnectTimeout bounds a single connect attempt.
const defaultConnectTimeout = 10 * time.Second

var (
	ErrConnectInProgress = errors.New("endpoint: connect already in progress")
	ErrNotConnected      = errors.New("endpoint: not connected")
)

// onTransition is invoked for every [TransitionEvent]; nil is a valid value
// (no observer).
type onTransition func(TransitionEvent)

// Connection is one WebSocket to an upstream endpoint, acting as the
// JSON-RPC callee for initialize, tools/list, tools/call, and ping. The
// zero value is not usable; build with [NewConnection].
type Connection struct {
	url        string
	dispatcher Dispatcher
	policy     ReconnectPolicy
	onEvent    onTransition

	mu                 sync.RWMutex
	state              State
	conn               *websocket.Conn
	initialized        bool
	isManualDisconnect bool
	attempts           int

	perfMu  sync.Mutex
	perf    []PerformanceRecord
	perfPos int

	cancelRun context.CancelFunc
	runWG     sync.WaitGroup

	serverInfoName    string
	serverInfoVersion string
}

// NewConnection builds a Connection for url, dispatching tool calls to
// dispatcher. onEvent, if non-nil, is invoked for every state transition.
func NewConnection(url string, dispatcher Dispatcher, policy ReconnectPolicy, onEvent onTransition) *Connection {
	return &Connection{
		url:               url,
		dispatcher:        dispatcher,
		policy:            policy,
		onEvent:           onEvent,
		state:             StateDisconnected,
		serverInfoName:    "mcpfleet",
		serverInfoVersion: "1.0.0",
	}
}

// URL returns the endpoint URL this connection dials.
func (c *Connection) URL() string { return c.url }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect dials the upstream endpoint and starts the read loop. Rejected
// with [ErrConnectInProgress] while already CONNECTING. A no-op while
// already CONNECTED. Bounded by a per-connection connect timeout (default
// 10s); on any failure the connection moves to RECONNECTING with a reconnect
// scheduled when the policy allows another attempt, otherwise to FAILED, and
// the error is surfaced.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	case StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.isManualDisconnect = false
	c.mu.Unlock()

	timeout := c.policy.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		c.handleConnectFailure(fmt.Errorf("endpoint: dial %s: %w", c.url, err))
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	// This side is the callee: the peer's own initialize request arrives
	// asynchronously on the read loop started below, so CONNECTED is
	// entered here rather than deferred until initialized=true.
	c.state = StateConnected
	c.attempts = 0
	c.initialized = false
	c.cancelRun = runCancel
	c.mu.Unlock()

	c.emit("connect", true, "connected")

	c.runWG.Add(1)
	go c.readLoop(runCtx, conn)

	return nil
}

func (c *Connection) handleConnectFailure(err error) {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	policy := c.policy
	c.mu.Unlock()

	if policy.Enabled && attempts < policy.MaxAttempts {
		c.mu.Lock()
		c.state = StateReconnecting
		c.mu.Unlock()
		c.emit("connect", false, err.Error())
		c.scheduleReconnect(attempts)
		return
	}

	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	c.emit("connect", false, err.Error())
}

func (c *Connection) scheduleReconnect(attempt int) {
	delay := c.policy.nextInterval(attempt)
	time.AfterFunc(delay, func() {
		c.mu.RLock()
		manual := c.isManualDisconnect
		c.mu.RUnlock()
		if manual {
			return
		}
		observe.DefaultMetrics().RecordReconnect(context.Background(), c.url)
		if err := c.Connect(context.Background()); err != nil {
			slog.Warn("endpoint: reconnect attempt failed", "url", c.url, "attempt", attempt+1, "error", err)
		}
	})
}

// Disconnect closes the transport and sets the manual-disconnect flag,
// inhibiting any pending auto-reconnect.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.isManualDisconnect = true
	conn := c.conn
	cancel := c.cancelRun
	c.conn = nil
	c.state = StateDisconnected
	c.initialized = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.runWG.Wait()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "disconnect")
	}
	c.emit("disconnect", false, "manual disconnect")
	return err
}

func (c *Connection) emit(operation string, success bool, message string) {
	if c.onEvent == nil {
		return
	}
	c.onEvent(TransitionEvent{
		Endpoint:  c.url,
		Connected: c.State() == StateConnected,
		Operation: operation,
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// readLoop is the JSON-RPC callee's receive loop: one text frame per
// message, dispatched, and (for requests) answered on the same connection.
func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.runWG.Done()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.handlePeerClose(err)
			return
		}
		c.handleFrame(ctx, conn, data)
	}
}

func (c *Connection) handlePeerClose(err error) {
	c.mu.Lock()
	manual := c.isManualDisconnect
	c.conn = nil
	c.state = StateDisconnected
	c.initialized = false
	c.mu.Unlock()

	c.emit("disconnect", false, err.Error())

	if manual || !c.policy.Enabled {
		return
	}
	c.handleConnectFailure(fmt.Errorf("endpoint: peer closed: %w", err))
}

// handleFrame parses one inbound JSON-RPC message and, for requests,
// writes a response. Malformed JSON produces no response — there is no id
// to attribute it to.
func (c *Connection) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte) {
	msg, err := jsonrpc.Parse(data)
	if err != nil {
		slog.Warn("endpoint: malformed JSON-RPC frame, dropping", "url", c.url, "error", err)
		return
	}

	if msg.IsNotification() {
		return
	}

	resp := c.dispatch(ctx, msg)
	encoded, err := jsonrpc.Encode(resp)
	if err != nil {
		slog.Error("endpoint: encode response", "url", c.url, "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, encoded); err != nil {
		slog.Warn("endpoint: write response failed", "url", c.url, "error", err)
	}
}

// dispatch routes one inbound request to its handler and always returns a
// response message carrying the request's id verbatim.
func (c *Connection) dispatch(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	switch msg.Method {
	case jsonrpc.MethodInitialize:
		return c.handleInitialize(msg)
	case jsonrpc.MethodToolsList:
		return c.handleToolsList(msg)
	case jsonrpc.MethodToolsCall:
		return c.handleToolsCall(ctx, msg)
	case jsonrpc.MethodPing:
		return jsonrpc.NewSuccess(msg.ID, jsonrpc.MustMarshal(map[string]any{}))
	default:
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeMethodNotFound, "method not found", nil)
	}
}

func (c *Connection) handleInitialize(msg *jsonrpc.Message) *jsonrpc.Message {
	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	result := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]any{
			"tools":   map[string]any{"listChanged": true},
			"logging": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    c.serverInfoName,
			"version": c.serverInfoVersion,
		},
	}
	return jsonrpc.NewSuccess(msg.ID, jsonrpc.MustMarshal(result))
}

func (c *Connection) handleToolsList(msg *jsonrpc.Message) *jsonrpc.Message {
	if c.dispatcher == nil {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeServerError, "service not ready", nil)
	}
	tools := c.dispatcher.GetAllTools()
	list := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		list = append(list, map[string]any{
			"name":        t.QualifiedName,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return jsonrpc.NewSuccess(msg.ID, jsonrpc.MustMarshal(map[string]any{"tools": list}))
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (c *Connection) handleToolsCall(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	if c.dispatcher == nil {
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeServerError, "service not ready", nil)
	}

	var params toolsCallParams
	if len(msg.Params) > 0 {
		if err := unmarshalParams(msg.Params, &params); err != nil {
			return jsonrpc.NewError(msg.ID, jsonrpc.CodeInvalidParams, "invalid params", nil)
		}
	}

	serviceName, toolName, ok := mcpservice.Split(params.Name)
	if !ok {
		serviceName, toolName = "", params.Name
	}

	start := time.Now()
	result, err := c.dispatcher.CallTool(ctx, params.Name, params.Arguments)
	duration := time.Since(start)

	if err != nil {
		c.recordPerformance(params.Name, duration, false)
		observe.DefaultMetrics().RecordToolCall(ctx, serviceName, toolName, "error", duration.Seconds())
		message := err.Error()
		if message == "" {
			message = "unknown error"
		}
		var data json.RawMessage
		if errors.Is(err, mcpservice.ErrToolNotFound) {
			if suggestions := c.dispatcher.SuggestForUnknownTool(params.Name); len(suggestions) > 0 {
				data = jsonrpc.MustMarshal(map[string]any{"suggestion": suggestions[0]})
			}
		}
		return jsonrpc.NewError(msg.ID, jsonrpc.CodeServerError, message, data)
	}

	c.recordPerformance(params.Name, duration, true)
	observe.DefaultMetrics().RecordToolCall(ctx, serviceName, toolName, "ok", duration.Seconds())
	return jsonrpc.NewSuccess(msg.ID, jsonrpc.MustMarshal(result))
}

func (c *Connection) recordPerformance(toolName string, d time.Duration, success bool) {
	c.perfMu.Lock()
	defer c.perfMu.Unlock()
	rec := PerformanceRecord{ToolName: toolName, DurationMs: d.Milliseconds(), Success: success, Timestamp: time.Now()}
	if len(c.perf) < maxPerformanceRecords {
		c.perf = append(c.perf, rec)
	} else {
		c.perf[c.perfPos] = rec
		c.perfPos = (c.perfPos + 1) % maxPerformanceRecords
	}
}

// PerformanceSnapshot returns a copy of the bounded performance ring buffer.
func (c *Connection) PerformanceSnapshot() []PerformanceRecord {
	c.perfMu.Lock()
	defer c.perfMu.Unlock()
	out := make([]PerformanceRecord, len(c.perf))
	copy(out, c.perf)
	return out
}

// IsManualDisconnect reports whether the last disconnect was caller-initiated.
func (c *Connection) IsManualDisconnect() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isManualDisconnect
}

// Attempts returns the current consecutive-failure count.
func (c *Connection) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}
