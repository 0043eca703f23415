package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mcpfleet/internal/config"
	"github.com/MrWong99/mcpfleet/internal/eventbus"
	"github.com/MrWong99/mcpfleet/internal/observe"
)

// Event bus topics published and subscribed by the Manager.
const (
	TopicConfigUpdated         = "config:updated"
	TopicStatusUpdated         = "status:updated"
	TopicEndpointStatusChanged = "endpoint:status:changed"
	TopicReconnectCompleted    = "connection:reconnect:completed"
)

var (
	// ErrDuplicateEndpoint is returned by AddEndpoint for a URL already
	// tracked in memory or already persisted.
	ErrDuplicateEndpoint = errors.New("endpoint: duplicate endpoint url")
	// ErrUnknownEndpoint is returned for an operation on an untracked URL.
	ErrUnknownEndpoint = errors.New("endpoint: unknown endpoint url")
	// ErrInvalidURL is returned when a URL is empty, unparseable, or not
	// ws/wss scheme.
	ErrInvalidURL = errors.New("endpoint: invalid endpoint url")
)

// EndpointStatus is the status snapshot the Manager tracks per URL.
type EndpointStatus struct {
	URL   string
	State State
}

// allSettled runs fns concurrently and returns every non-nil error
// joined, rather than the first (which is what a plain [errgroup.Group]
// would give via Wait). This is the "allSettled" semantics connect()/
// disconnect() require: a caller needs to know about every endpoint that
// failed, not just the first one errgroup happened to observe.
func allSettled(fns ...func() error) error {
	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Manager owns a fleet of [Connection]s, one per endpoint URL, and
// supervises their lifecycle: fan-out connect/disconnect, persisted-config
// add/remove with rollback, options, and catalog-triggered fleet reconnects.
// The zero value is not usable; build with [NewManager].
type Manager struct {
	bus        *eventbus.Bus
	dispatcher Dispatcher
	cfgManager config.ConfigManager

	mu          sync.RWMutex
	connections map[string]*Connection
	statuses    map[string]EndpointStatus
	opts        config.EndpointManagerOptions

	subs []eventbus.Subscription
}

// NewManager builds a Manager. bus is used both to publish fleet events and
// to subscribe to the Service Manager's catalog-change topics that trigger
// fleet reconnects.
func NewManager(bus *eventbus.Bus, dispatcher Dispatcher, cfgManager config.ConfigManager, opts config.EndpointManagerOptions) *Manager {
	m := &Manager{
		bus:         bus,
		dispatcher:  dispatcher,
		cfgManager:  cfgManager,
		connections: make(map[string]*Connection),
		statuses:    make(map[string]EndpointStatus),
		opts:        opts,
	}
	m.subscribeFleetReconnect()
	return m
}

func (m *Manager) subscribeFleetReconnect() {
	m.subs = append(m.subs,
		m.bus.On("mcp:server:added", func(any) { m.scheduleFleetReconnect("mcp:server:added", m.delayMs(m.opts.ServiceAddedDelayMs)) }),
		m.bus.On("mcp:server:removed", func(any) { m.scheduleFleetReconnect("mcp:server:removed", m.delayMs(m.opts.ServiceRemovedDelayMs)) }),
		m.bus.On("mcp:server:batch_added", func(any) { m.scheduleFleetReconnect("mcp:server:batch_added", m.delayMs(m.opts.BatchAddedDelayMs)) }),
	)
}

func (m *Manager) delayMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// scheduleFleetReconnect waits delay then disconnects-then-reconnects every
// currently connected endpoint (sequential disconnect, parallel reconnect),
// giving a newly (un)registered downstream service time to settle before
// every endpoint re-advertises its tool surface.
func (m *Manager) scheduleFleetReconnect(reason string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.mu.RLock()
		var connected []*Connection
		for _, c := range m.connections {
			if c.State() == StateConnected {
				connected = append(connected, c)
			}
		}
		m.mu.RUnlock()

		for _, c := range connected {
			_ = c.Disconnect()
		}

		fns := make([]func() error, len(connected))
		for i, c := range connected {
			c := c
			fns[i] = func() error { return c.Connect(context.Background()) }
		}
		_ = allSettled(fns...)

		m.bus.Emit(TopicReconnectCompleted, reason)
	})
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidURL, raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: %s: scheme must be ws or wss", ErrInvalidURL, raw)
	}
	return nil
}

func (m *Manager) onTransition(evt TransitionEvent) {
	m.mu.Lock()
	prev, existed := m.statuses[evt.Endpoint]
	wasConnected := existed && prev.State == StateConnected
	m.statuses[evt.Endpoint] = EndpointStatus{URL: evt.Endpoint, State: State(stateFor(evt))}
	notificationsEnabled := m.opts.ErrorNotificationEnabled
	m.mu.Unlock()

	switch {
	case evt.Connected && !wasConnected:
		observe.DefaultMetrics().ActiveEndpoints.Add(context.Background(), 1)
	case !evt.Connected && wasConnected:
		observe.DefaultMetrics().ActiveEndpoints.Add(context.Background(), -1)
	}

	// A failure transition (connect error, peer-initiated disconnect) is a
	// notification; suppress it when the operator has disabled them, but
	// connection state above is still tracked regardless.
	if !evt.Success && !notificationsEnabled {
		return
	}
	m.bus.Emit(TopicEndpointStatusChanged, evt)
	m.bus.Emit(TopicStatusUpdated, evt)
}

func stateFor(evt TransitionEvent) string {
	if evt.Connected {
		return string(StateConnected)
	}
	return string(StateDisconnected)
}

// Initialize performs idempotent bulk setup: validates every url, creates
// one Connection per url not already tracked, and sets its initial status.
func (m *Manager) Initialize(urls []string) error {
	var errs []error
	for _, u := range urls {
		if err := validateURL(u); err != nil {
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		if _, exists := m.connections[u]; !exists {
			conn := NewConnection(u, m.dispatcher, m.reconnectPolicy(), m.onTransition)
			m.connections[u] = conn
			m.statuses[u] = EndpointStatus{URL: u, State: StateDisconnected}
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (m *Manager) reconnectPolicy() ReconnectPolicy {
	m.mu.RLock()
	opts := m.opts
	m.mu.RUnlock()

	policy := DefaultReconnectPolicy()
	policy.Enabled = opts.ErrorRecoveryEnabled
	policy.MaxAttempts = opts.MaxReconnectAttempts
	policy.Base = time.Duration(opts.ReconnectIntervalMs) * time.Millisecond
	policy.ConnectTimeout = time.Duration(opts.ConnectionTimeoutMs) * time.Millisecond
	return policy
}

// Cleanup is the idempotent bulk teardown counterpart to Initialize: it
// disconnects and forgets every tracked endpoint.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	m.statuses = make(map[string]EndpointStatus)
	m.mu.Unlock()

	fns := make([]func() error, len(conns))
	for i, c := range conns {
		c := c
		fns[i] = c.Disconnect
	}
	return allSettled(fns...)
}

// Connect fans out connect() to every tracked endpoint in parallel with
// allSettled semantics: it only fails if every endpoint failed (and at
// least one existed).
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		return nil
	}

	var mu sync.Mutex
	failures := 0
	var errs []error
	fns := make([]func() error, len(conns))
	for i, c := range conns {
		c := c
		fns[i] = func() error {
			err := c.Connect(ctx)
			if err != nil {
				mu.Lock()
				failures++
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		}
	}
	_ = allSettled(fns...)

	if failures == len(conns) {
		return fmt.Errorf("endpoint: all %d endpoints failed to connect: %w", len(conns), errors.Join(errs...))
	}
	return nil
}

// Disconnect fans out disconnect() to every tracked endpoint in parallel.
func (m *Manager) Disconnect() error {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	fns := make([]func() error, len(conns))
	for i, c := range conns {
		c := c
		fns[i] = c.Disconnect
	}
	return allSettled(fns...)
}

// AddEndpoint rejects an invalid endpointURL, or one already tracked in
// memory or already persisted, before anything is written. Otherwise it
// persists endpointURL via the config manager first; if the initial connect
// then fails, the persisted write is rolled back, the in-memory entry
// removed, and the original error re-raised.
func (m *Manager) AddEndpoint(ctx context.Context, endpointURL string) error {
	if err := validateURL(endpointURL); err != nil {
		return err
	}

	m.mu.RLock()
	_, exists := m.connections[endpointURL]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, endpointURL)
	}
	for _, existing := range m.cfgManager.GetMcpEndpoints() {
		if existing == endpointURL {
			return fmt.Errorf("%w: %s (already persisted)", ErrDuplicateEndpoint, endpointURL)
		}
	}

	if err := m.cfgManager.AddMcpEndpoint(endpointURL); err != nil {
		return fmt.Errorf("endpoint: persist %s: %w", endpointURL, err)
	}

	conn := NewConnection(endpointURL, m.dispatcher, m.reconnectPolicy(), m.onTransition)
	m.mu.Lock()
	m.connections[endpointURL] = conn
	m.statuses[endpointURL] = EndpointStatus{URL: endpointURL, State: StateDisconnected}
	m.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.connections, endpointURL)
		delete(m.statuses, endpointURL)
		m.mu.Unlock()
		if rbErr := m.cfgManager.RemoveMcpEndpoint(endpointURL); rbErr != nil {
			return fmt.Errorf("endpoint: connect %s failed (%v) and rollback failed: %w", endpointURL, err, rbErr)
		}
		return err
	}

	return nil
}

// RemoveEndpoint removes endpointURL from the persisted config first, then
// disconnects and forgets the in-memory entry; on failure it re-adds
// endpointURL to the persisted config.
func (m *Manager) RemoveEndpoint(endpointURL string) error {
	m.mu.RLock()
	conn, exists := m.connections[endpointURL]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpointURL)
	}

	if err := m.cfgManager.RemoveMcpEndpoint(endpointURL); err != nil {
		return fmt.Errorf("endpoint: un-persist %s: %w", endpointURL, err)
	}

	if err := conn.Disconnect(); err != nil {
		if rbErr := m.cfgManager.AddMcpEndpoint(endpointURL); rbErr != nil {
			return fmt.Errorf("endpoint: disconnect %s failed (%v) and rollback failed: %w", endpointURL, err, rbErr)
		}
		return err
	}

	m.mu.Lock()
	delete(m.connections, endpointURL)
	delete(m.statuses, endpointURL)
	m.mu.Unlock()
	return nil
}

// EndpointDiff describes the add/remove/keep result of [Manager.UpdateEndpoints].
type EndpointDiff struct {
	Added   []string
	Removed []string
	Kept    []string
}

// UpdateEndpoints computes the add/remove/keep diff between newURLs and the
// currently tracked set, applies the adds and removes, and emits
// [TopicConfigUpdated] carrying the diff.
func (m *Manager) UpdateEndpoints(ctx context.Context, newURLs []string) (EndpointDiff, error) {
	m.mu.RLock()
	current := make(map[string]struct{}, len(m.connections))
	for u := range m.connections {
		current[u] = struct{}{}
	}
	m.mu.RUnlock()

	wanted := make(map[string]struct{}, len(newURLs))
	for _, u := range newURLs {
		wanted[u] = struct{}{}
	}

	var diff EndpointDiff
	for u := range wanted {
		if _, ok := current[u]; ok {
			diff.Kept = append(diff.Kept, u)
		} else {
			diff.Added = append(diff.Added, u)
		}
	}
	for u := range current {
		if _, ok := wanted[u]; !ok {
			diff.Removed = append(diff.Removed, u)
		}
	}

	var errs []error
	for _, u := range diff.Added {
		if err := m.AddEndpoint(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	for _, u := range diff.Removed {
		if err := m.RemoveEndpoint(u); err != nil {
			errs = append(errs, err)
		}
	}

	m.bus.Emit(TopicConfigUpdated, diff)
	return diff, errors.Join(errs...)
}

// UpdateOptions validates opts via the options schema and applies it live.
// Emits [TopicConfigUpdated] carrying the old and new options.
func (m *Manager) UpdateOptions(opts config.EndpointManagerOptions) error {
	if err := config.ValidateOptions(opts); err != nil {
		return err
	}
	m.mu.Lock()
	old := m.opts
	m.opts = opts
	m.mu.Unlock()

	m.bus.Emit(TopicConfigUpdated, struct{ Old, New config.EndpointManagerOptions }{old, opts})
	return nil
}

// TriggerReconnect forces a disconnect-then-connect cycle on the named
// endpoint, outside of the normal reconnect-policy schedule.
func (m *Manager) TriggerReconnect(ctx context.Context, endpointURL string) error {
	m.mu.RLock()
	conn, ok := m.connections[endpointURL]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpointURL)
	}
	_ = conn.Disconnect()
	return conn.Connect(ctx)
}

// StopReconnect marks endpointURL as manually disconnected so any pending
// auto-reconnect is inhibited.
func (m *Manager) StopReconnect(endpointURL string) error {
	m.mu.RLock()
	conn, ok := m.connections[endpointURL]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpointURL)
	}
	return conn.Disconnect()
}

// StopAllReconnects disconnects every tracked endpoint, inhibiting their
// pending auto-reconnects.
func (m *Manager) StopAllReconnects() error {
	return m.Disconnect()
}

// GetConnectionStatus returns a snapshot of every tracked endpoint's status.
func (m *Manager) GetConnectionStatus() map[string]EndpointStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]EndpointStatus, len(m.statuses))
	for u, s := range m.statuses {
		s.State = m.connections[u].State()
		out[u] = s
	}
	return out
}

// IsAnyConnected reports whether at least one tracked endpoint is CONNECTED.
func (m *Manager) IsAnyConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.connections {
		if c.State() == StateConnected {
			return true
		}
	}
	return false
}

// GetEndpoints returns the URLs of every tracked endpoint.
func (m *Manager) GetEndpoints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.connections))
	for u := range m.connections {
		out = append(out, u)
	}
	return out
}

// Close unsubscribes from the event bus's fleet-reconnect topics. Call
// once at process shutdown, after Cleanup.
func (m *Manager) Close() {
	for _, sub := range m.subs {
		m.bus.Off(sub)
	}
}
