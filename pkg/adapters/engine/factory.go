package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// Factory creates engine adapters from the registry.
type Factory interface {
	// NewManager connects to the server described by cfg.
	NewManager(ctx context.Context, cfg *InstanceConfig) (Manager, error)

	// NewURLBuilder returns the schema URL builder for cfg.
	NewURLBuilder(cfg *InstanceConfig) (URLBuilder, error)

	// NewConnectionTester opens a connection using a schema connection URL.
	// The engine is detected from the URL.
	NewConnectionTester(ctx context.Context, url, username, password string) (ConnectionTester, error)

	// ListEngines returns info for all compiled in adapters.
	ListEngines() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewFactory returns a factory that uses the global registry.
func NewFactory(logger *zap.Logger) Factory {
	return &registryFactory{
		logger: logger.Named("engine"),
	}
}

func (f *registryFactory) NewManager(ctx context.Context, cfg *InstanceConfig) (Manager, error) {
	reg, ok := lookup(cfg.Engine)
	if !ok || reg.ManagerFactory == nil {
		return nil, fmt.Errorf("unsupported engine: %s (not compiled in)", cfg.Engine)
	}
	return reg.ManagerFactory(ctx, cfg, f.logger.With(zap.String("host", cfg.Host)))
}

func (f *registryFactory) NewURLBuilder(cfg *InstanceConfig) (URLBuilder, error) {
	reg, ok := lookup(cfg.Engine)
	if !ok || reg.URLBuilderFactory == nil {
		return nil, fmt.Errorf("unsupported engine: %s (not compiled in)", cfg.Engine)
	}
	return reg.URLBuilderFactory(cfg), nil
}

func (f *registryFactory) NewConnectionTester(ctx context.Context, url, username, password string) (ConnectionTester, error) {
	e, err := models.EngineFromURL(url)
	if err != nil {
		return nil, err
	}
	reg, ok := lookup(e)
	if !ok || reg.ConnectionTesterFactory == nil {
		return nil, fmt.Errorf("unsupported engine: %s (not compiled in)", e)
	}
	return reg.ConnectionTesterFactory(ctx, url, username, password)
}

func (f *registryFactory) ListEngines() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements Factory at compile time.
var _ Factory = (*registryFactory)(nil)
