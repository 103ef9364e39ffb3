//go:build oracle || all_adapters

package oracle

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func init() {
	engine.Register(engine.Registration{
		Info: engine.AdapterInfo{
			Engine:      models.EngineOracle,
			DisplayName: "Oracle Database",
			Description: "One user and bigfile tablespace per schema on Oracle 12c+",
			DefaultPort: DefaultPort(),
		},
		ManagerFactory: func(ctx context.Context, cfg *engine.InstanceConfig, logger *zap.Logger) (engine.Manager, error) {
			return NewManager(ctx, FromInstanceConfig(cfg), logger)
		},
		URLBuilderFactory: func(cfg *engine.InstanceConfig) engine.URLBuilder {
			service := cfg.ClientService
			if service == "" {
				service = cfg.Service
			}
			return NewURLBuilder(service)
		},
		ConnectionTesterFactory: func(ctx context.Context, url, username, password string) (engine.ConnectionTester, error) {
			return NewTester(ctx, url, username, password)
		},
	})
}
