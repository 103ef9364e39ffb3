package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func init() {
	engine.Register(engine.Registration{
		Info: engine.AdapterInfo{
			Engine:      models.EnginePostgres,
			DisplayName: "PostgreSQL",
			Description: "One database and login role per schema on PostgreSQL 12+",
			DefaultPort: DefaultPort(),
		},
		ManagerFactory: func(ctx context.Context, cfg *engine.InstanceConfig, logger *zap.Logger) (engine.Manager, error) {
			return NewManager(ctx, FromInstanceConfig(cfg), logger)
		},
		URLBuilderFactory: func(cfg *engine.InstanceConfig) engine.URLBuilder {
			return engine.URLBuilderFunc(BuildURL)
		},
		ConnectionTesterFactory: func(ctx context.Context, url, username, password string) (engine.ConnectionTester, error) {
			return NewTester(ctx, url, username, password)
		},
	})
}
