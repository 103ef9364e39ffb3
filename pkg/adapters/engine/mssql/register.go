package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func init() {
	engine.Register(engine.Registration{
		Info: engine.AdapterInfo{
			Engine:      models.EngineMSSQL,
			DisplayName: "Microsoft SQL Server",
			Description: "One database and SQL login per schema on SQL Server 2016+",
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
