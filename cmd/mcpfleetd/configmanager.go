package main

import (
	"fmt"
	"sync"

	"github.com/MrWong99/mcpfleet/internal/mcpservice"
)

// memConfigManager is the composition root's in-process [config.ConfigManager]:
// it seeds the persisted endpoint list from the YAML config at startup and
// keeps it in memory thereafter. A durable (file- or database-backed)
// ConfigManager is an external collaborator the core intentionally does not
// provide; this one exists only so mcpfleetd has something to run against.
type memConfigManager struct {
	mu        sync.RWMutex
	endpoints []string
	servers   []mcpservice.ServiceConfig
}

func newMemConfigManager(endpoints []string, servers []mcpservice.ServiceConfig) *memConfigManager {
	cm := &memConfigManager{}
	cm.endpoints = append(cm.endpoints, endpoints...)
	cm.servers = append(cm.servers, servers...)
	return cm
}

func (cm *memConfigManager) GetMcpEndpoints() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]string, len(cm.endpoints))
	copy(out, cm.endpoints)
	return out
}

func (cm *memConfigManager) AddMcpEndpoint(url string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, e := range cm.endpoints {
		if e == url {
			return fmt.Errorf("mcpfleetd: endpoint %s already persisted", url)
		}
	}
	cm.endpoints = append(cm.endpoints, url)
	return nil
}

func (cm *memConfigManager) RemoveMcpEndpoint(url string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := cm.endpoints[:0]
	for _, e := range cm.endpoints {
		if e != url {
			out = append(out, e)
		}
	}
	cm.endpoints = out
	return nil
}

func (cm *memConfigManager) GetMcpServers() []mcpservice.ServiceConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]mcpservice.ServiceConfig, len(cm.servers))
	copy(out, cm.servers)
	return out
}
