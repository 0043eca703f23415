package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/mcpfleet/internal/eventbus"
	"github.com/MrWong99/mcpfleet/internal/observe"
)

// Event bus topics published by the Service Manager.
const (
	TopicServerAdded      = "mcp:server:added"
	TopicServerRemoved    = "mcp:server:removed"
	TopicServerBatchAdded = "mcp:server:batch_added"
	TopicServiceConnected = "mcp:service:connected"
	TopicServiceDisconn   = "mcp:service:disconnected"
	TopicConnectionFailed = "mcp:service:connection:failed"
	TopicCatalogConflict  = "mcp:catalog:conflict"
)

var (
	// ErrServiceExists is returned by addServiceConfig for a duplicate name.
	ErrServiceExists = errors.New("mcpservice: service already registered")
	// ErrServiceUnknown is returned when a named service is not registered.
	ErrServiceUnknown = errors.New("mcpservice: unknown service")
	// ErrInvalidToolName is returned by startService when a tool's
	// originalName contains the qualification separator, per the resolved
	// tool-name ambiguity rule.
	ErrInvalidToolName = errors.New("mcpservice: tool name contains qualification separator \"__\"")
)

// qualifiedSeparator joins a service name and an original tool name into
// the externally advertised qualified name.
const qualifiedSeparator = "__"

// Qualify builds the externally advertised tool name for a service/tool pair.
func Qualify(serviceName, originalName string) string {
	return serviceName + qualifiedSeparator + originalName
}

// Split reverses [Qualify]: it splits a qualified name at its first
// occurrence of the separator. ok is false if qualified does not contain
// the separator at all (a "custom" tool name dispatched elsewhere).
func Split(qualified string) (serviceName, originalName string, ok bool) {
	i := indexSeparator(qualified)
	if i < 0 {
		return "", "", false
	}
	return qualified[:i], qualified[i+len(qualifiedSeparator):], true
}

func indexSeparator(s string) int {
	for i := 0; i+len(qualifiedSeparator) <= len(s); i++ {
		if s[i:i+len(qualifiedSeparator)] == qualifiedSeparator {
			return i
		}
	}
	return -1
}

// ToolEntry is one row of the aggregated catalog returned by GetAllTools.
type ToolEntry struct {
	QualifiedName string
	ServiceName   string
	OriginalName  string
	Description   string
	InputSchema   any
}

// ServiceManager is the pool that owns downstream MCP services, multiplexes
// tools/list and tools/call across them, and maintains the aggregated tool
// catalog with namespaced tool IDs. The zero value is not usable; build
// with [NewServiceManager].
type ServiceManager struct {
	bus *eventbus.Bus

	mu       sync.RWMutex
	services map[string]*Service
	configs  map[string]ServiceConfig
	catalog  map[string]ToolEntry // qualifiedName -> entry
}

// NewServiceManager creates an empty ServiceManager publishing lifecycle
// events on bus.
func NewServiceManager(bus *eventbus.Bus) *ServiceManager {
	return &ServiceManager{
		bus:      bus,
		services: make(map[string]*Service),
		configs:  make(map[string]ServiceConfig),
		catalog:  make(map[string]ToolEntry),
	}
}

// AddServiceConfig registers cfg without starting it. Emits
// [TopicServerAdded] with cfg.Name.
func (m *ServiceManager) AddServiceConfig(cfg ServiceConfig) error {
	m.mu.Lock()
	if _, exists := m.configs[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceExists, cfg.Name)
	}
	m.configs[cfg.Name] = cfg
	m.mu.Unlock()

	m.bus.Emit(TopicServerAdded, cfg.Name)
	return nil
}

// AddServiceConfigs registers many configs at once, emitting a single
// [TopicServerBatchAdded] event carrying every name that was added.
// Configs that already exist are skipped (not an error) and excluded from
// the emitted batch.
func (m *ServiceManager) AddServiceConfigs(cfgs []ServiceConfig) []string {
	var added []string
	m.mu.Lock()
	for _, cfg := range cfgs {
		if _, exists := m.configs[cfg.Name]; exists {
			continue
		}
		m.configs[cfg.Name] = cfg
		added = append(added, cfg.Name)
	}
	m.mu.Unlock()

	if len(added) > 0 {
		m.bus.Emit(TopicServerBatchAdded, added)
	}
	return added
}

// StartService connects the named service, validates every advertised
// tool's originalName against the qualification-ambiguity rule, and merges
// its tools into the aggregated catalog. Emits [TopicServiceConnected] and
// [TopicServerAdded] on success, or [TopicConnectionFailed] when the connect
// itself fails; a rejected tool name emits no event.
func (m *ServiceManager) StartService(ctx context.Context, name string) error {
	m.mu.RLock()
	cfg, hasCfg := m.configs[name]
	existing, running := m.services[name]
	m.mu.RUnlock()

	if !hasCfg {
		return fmt.Errorf("%w: %s", ErrServiceUnknown, name)
	}
	if running {
		return existing.Connect(ctx)
	}

	svc := NewService(cfg)
	if err := svc.Connect(ctx); err != nil {
		m.bus.Emit(TopicConnectionFailed, ConnectionFailedEvent{ServiceName: name, Error: err, Attempt: 1})
		return err
	}

	for _, t := range svc.ListTools() {
		if indexSeparator(t.Name) >= 0 {
			_ = svc.Disconnect()
			return fmt.Errorf("%w: service %q tool %q", ErrInvalidToolName, name, t.Name)
		}
	}

	m.mu.Lock()
	m.services[name] = svc
	m.mergeServiceToolsLocked(name, svc)
	m.mu.Unlock()

	m.bus.Emit(TopicServiceConnected, name)
	m.bus.Emit(TopicServerAdded, name)
	return nil
}

// mergeServiceToolsLocked must be called with m.mu held for writing. A
// qualified-name collision (only reachable if an originalName itself
// contains the separator, which StartService already rejects — this guards
// configs added directly without going through that check) is resolved by
// letting the later-registered service win, and a [TopicCatalogConflict]
// event is emitted.
func (m *ServiceManager) mergeServiceToolsLocked(serviceName string, svc *Service) {
	before := len(m.catalog)
	m.removeServiceToolsLocked(serviceName)
	for _, t := range svc.ListTools() {
		q := Qualify(serviceName, t.Name)
		if prev, exists := m.catalog[q]; exists && prev.ServiceName != serviceName {
			m.bus.Emit(TopicCatalogConflict, q)
		}
		m.catalog[q] = ToolEntry{
			QualifiedName: q,
			ServiceName:   serviceName,
			OriginalName:  t.Name,
			Description:   t.Description,
			InputSchema:   t.InputSchema,
		}
	}
	m.recordCatalogSizeLocked(before)
}

func (m *ServiceManager) removeServiceToolsLocked(serviceName string) {
	for q, entry := range m.catalog {
		if entry.ServiceName == serviceName {
			delete(m.catalog, q)
		}
	}
}

// recordCatalogSizeLocked reports the catalog-size delta since before to the
// CatalogSize gauge. Must be called with m.mu held. Named callers are
// responsible for calling it exactly once per net mutation — mergeServiceToolsLocked
// does so itself (it calls removeServiceToolsLocked as a sub-step); callers
// of removeServiceToolsLocked on its own (StopService) must call it too.
func (m *ServiceManager) recordCatalogSizeLocked(before int) {
	if delta := len(m.catalog) - before; delta != 0 {
		observe.DefaultMetrics().CatalogSize.Add(context.Background(), int64(delta))
	}
}

// StopService disconnects the named service and removes its tools from the
// aggregated catalog. Emits [TopicServerRemoved] and [TopicServiceDisconn].
func (m *ServiceManager) StopService(name string) error {
	m.mu.Lock()
	svc, ok := m.services[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceUnknown, name)
	}
	delete(m.services, name)
	before := len(m.catalog)
	m.removeServiceToolsLocked(name)
	m.recordCatalogSizeLocked(before)
	m.mu.Unlock()

	err := svc.Disconnect()
	m.bus.Emit(TopicServiceDisconn, name)
	m.bus.Emit(TopicServerRemoved, name)
	return err
}

// StartAll starts every registered-but-not-running service, collecting
// errors rather than stopping at the first failure.
func (m *ServiceManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.StartService(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll disconnects every running service.
func (m *ServiceManager) StopAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.StopService(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetAllTools returns a snapshot of the aggregated catalog.
func (m *ServiceManager) GetAllTools() []ToolEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolEntry, 0, len(m.catalog))
	for _, e := range m.catalog {
		out = append(out, e)
	}
	return out
}

// HasTool reports whether qualifiedName is in the aggregated catalog.
func (m *ServiceManager) HasTool(qualifiedName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.catalog[qualifiedName]
	return ok
}

// CallTool dispatches a qualified tool name to its owning service. It fails
// with [ErrToolNotFound] if qualifiedName is unknown and [ErrNotConnected]
// if the owning service is not currently connected.
func (m *ServiceManager) CallTool(ctx context.Context, qualifiedName string, args map[string]any) (any, error) {
	m.mu.RLock()
	entry, known := m.catalog[qualifiedName]
	var svc *Service
	if known {
		svc = m.services[entry.ServiceName]
	}
	m.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, qualifiedName)
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, entry.ServiceName)
	}
	return svc.CallTool(ctx, entry.OriginalName, args)
}

// SuggestForUnknownTool returns fuzzy-matched candidates from the current
// catalog for a qualified name that was not found, for use as a JSON-RPC
// error's data.suggestion field. An empty result is not itself an error.
func (m *ServiceManager) SuggestForUnknownTool(qualifiedName string) []string {
	m.mu.RLock()
	candidates := make([]string, 0, len(m.catalog))
	for q := range m.catalog {
		candidates = append(candidates, q)
	}
	m.mu.RUnlock()
	return SuggestTools(qualifiedName, candidates)
}

// GetStatus returns the named service's status snapshot.
func (m *ServiceManager) GetStatus(name string) (Status, error) {
	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrServiceUnknown, name)
	}
	return svc.GetStatus(), nil
}

// ServiceNames returns the names of every registered configuration.
func (m *ServiceManager) ServiceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	return names
}
