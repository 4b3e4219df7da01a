package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string         `json:"type"`         // "bigquery", "postgres", "sqlserver"
	DisplayName string         `json:"display_name"` // "Google BigQuery"
	Dialect     models.Dialect `json:"dialect"`
}

// Registration pairs adapter info with its constructor.
type Registration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, cfg *Config) (Executor, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each adapter's init() function.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(whType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[whType]
	return ok
}

// New constructs the executor for cfg.Type.
func New(ctx context.Context, cfg *Config) (Executor, error) {
	registryMu.RLock()
	reg, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported warehouse type: %s (not compiled in)", cfg.Type)
	}
	return reg.Factory(ctx, cfg)
}
