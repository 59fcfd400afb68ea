package mcp

import (
	"fmt"

	"github.com/tachikoma-dev/tachikoma/pkg/config"
)

// Registry is a lookup over the MCP servers declared in config.Config, used
// to back the Primitive Registry's optional tool catalog.
type Registry struct {
	servers map[string]config.MCPServerConfig
}

// NewRegistry wraps a map of server configs (nil is treated as empty).
func NewRegistry(servers map[string]config.MCPServerConfig) *Registry {
	if servers == nil {
		servers = map[string]config.MCPServerConfig{}
	}
	return &Registry{servers: servers}
}

// Get returns the config for serverID, or an error if it isn't registered.
func (r *Registry) Get(serverID string) (config.MCPServerConfig, error) {
	cfg, ok := r.servers[serverID]
	if !ok {
		return config.MCPServerConfig{}, fmt.Errorf("mcp server %q not registered", serverID)
	}
	return cfg, nil
}

// GetAll returns every registered server config, keyed by ID.
func (r *Registry) GetAll() map[string]config.MCPServerConfig {
	return r.servers
}

// ServerIDs returns the registered server IDs.
func (r *Registry) ServerIDs() []string {
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	return ids
}
