package engine

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// AdapterInfo describes a registered engine adapter.
type AdapterInfo struct {
	Engine      models.Engine `json:"engine"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	DefaultPort int           `json:"default_port"`
}

// Registration contains info + factories for one engine.
type Registration struct {
	Info           AdapterInfo
	ManagerFactory func(ctx context.Context, cfg *InstanceConfig, logger *zap.Logger) (Manager, error)
	// URLBuilderFactory builds the URL scheme used for schemas on this instance.
	URLBuilderFactory func(cfg *InstanceConfig) URLBuilder
	// ConnectionTesterFactory opens a connection from a schema connection URL.
	ConnectionTesterFactory func(ctx context.Context, url, username, password string) (ConnectionTester, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.Engine]Registration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Engine] = reg
}

// RegisteredAdapters returns info for all registered adapters ordered by engine.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Engine < result[j].Engine })
	return result
}

// lookup returns the registration for an engine.
func lookup(e models.Engine) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[e]
	return reg, ok
}

// IsRegistered checks if an engine adapter is compiled in.
func IsRegistered(e models.Engine) bool {
	_, ok := lookup(e)
	return ok
}
