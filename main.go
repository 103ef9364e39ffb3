package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	_ "github.com/ekaya-inc/dbhotel/pkg/adapters/engine/mssql"
	_ "github.com/ekaya-inc/dbhotel/pkg/adapters/engine/oracle"
	_ "github.com/ekaya-inc/dbhotel/pkg/adapters/engine/postgres"
	"github.com/ekaya-inc/dbhotel/pkg/audit"
	"github.com/ekaya-inc/dbhotel/pkg/auth"
	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/crypto"
	"github.com/ekaya-inc/dbhotel/pkg/database"
	"github.com/ekaya-inc/dbhotel/pkg/handlers"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/middleware"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/repositories"
	"github.com/ekaya-inc/dbhotel/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Component: "dbhotel",
		Level:     cfg.LogLevel,
		Env:       cfg.Env,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dbhotel stopped", zap.String("error", logging.SanitizeError(err)))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Bool("auth_disabled", cfg.Auth.Disabled),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Int("instances", len(cfg.Instances)),
		zap.Bool("drop_allowed", cfg.Hotel.DropAllowed))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("connect to metadata store: %w", err)
	}
	defer db.Close()

	if err := migrate(db, logger); err != nil {
		return err
	}

	encryptor, err := crypto.NewOptionalEncryptor(cfg.ProjectCredentialsKey)
	if err != nil {
		return fmt.Errorf("credential encryptor: %w", err)
	}
	if !encryptor.Enabled() {
		logger.Warn("PROJECT_CREDENTIALS_KEY not set, schema passwords are stored unencrypted")
	}

	factory := engine.NewFactory(logger)
	for _, a := range factory.ListEngines() {
		logger.Debug("Engine adapter available", zap.String("engine", string(a.Engine)))
	}
	auditor := audit.NewSecurityAuditor(logger)

	external := services.NewExternalSchemaManager(
		repositories.NewSchemaRepository(db, repositories.ExternalScope, encryptor), logger)
	external.RegisterIntegration(auditor)

	admin := services.NewAdminService(logger, services.WithDefaultInstanceName(cfg.Hotel.DefaultInstanceName))
	hotel := services.NewHotelService(admin, factory, logger)

	builder := newInstanceBuilder(factory, db, encryptor, auditor, cfg.Hotel, logger)
	registered := services.NewInitializer(admin, cfg.Instances, builder, external,
		cfg.Hotel.RegistrationRetryDelay, logger).Start(ctx)

	if cfg.Hotel.DropAllowed {
		janitor := services.NewJanitor(admin, logger)
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-registered:
			}
			janitor.RunScheduler(ctx, cfg.Hotel.JanitorInitialDelay, cfg.Hotel.JanitorInterval)
		}()
	}

	authMiddleware := auth.NewMiddleware(cfg.Auth.SharedSecret, cfg.Auth.Disabled, logger)
	if cfg.Auth.Disabled {
		logger.Warn("API authentication is disabled")
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, hotel, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(hotel, auditor, cfg.Hotel, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewRestorableSchemaHandler(hotel, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewInstancesHandler(hotel, logger).RegisterRoutes(mux, authMiddleware)

	handler := middleware.RequestLogger(logger)(middleware.TrimTrailingSlash(mux))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		useTLS := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
		logger.Info("Starting dbhotel",
			zap.String("addr", server.Addr),
			zap.Bool("tls", useTLS),
			zap.String("version", cfg.Version))
		var err error
		if useTLS {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}

	for _, inst := range admin.FindAllInstances(nil) {
		if err := inst.Close(); err != nil {
			logger.Warn("Failed to close database instance",
				zap.String("instance", inst.Info().InstanceName),
				zap.Error(err))
		}
	}
	return nil
}

// migrate applies metadata store migrations over a database/sql handle that
// shares the pgx pool.
func migrate(db *database.DB, logger *zap.Logger) error {
	pool, ok := db.Pool.(*pgxpool.Pool)
	if !ok {
		return errors.New("metadata store pool does not support migrations")
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// newInstanceBuilder returns the function the initializer uses to connect to
// each configured server.
func newInstanceBuilder(
	factory engine.Factory,
	db *database.DB,
	encryptor *crypto.CredentialEncryptor,
	auditor *audit.SecurityAuditor,
	hotel config.HotelConfig,
	logger *zap.Logger,
) services.InstanceBuilder {
	settings := services.LifecycleSettings{
		DefaultCooldown: hotel.CooldownAfterDelete(),
		StaleCooldown:   hotel.CooldownForOldUnusedSchemas(),
		StaleLookback:   hotel.StaleLookback(),
		DropAllowed:     hotel.DropAllowed,
	}

	return func(ctx context.Context, ic config.InstanceConfig) (*services.DatabaseInstance, error) {
		e, err := models.ParseEngine(ic.Engine)
		if err != nil {
			return nil, err
		}
		ec := &engine.InstanceConfig{
			Engine:        e,
			Host:          ic.Host,
			Port:          ic.Port,
			Username:      ic.Username,
			Password:      ic.Password,
			Service:       ic.Service,
			ClientService: ic.ClientService,
			SSLMode:       ic.SSLMode,
		}

		urls, err := factory.NewURLBuilder(ec)
		if err != nil {
			return nil, err
		}
		manager, err := factory.NewManager(ctx, ec)
		if err != nil {
			return nil, err
		}

		info := models.InstanceInfo{
			Engine:              e,
			InstanceName:        ic.InstanceName,
			Host:                ic.Host,
			Port:                ic.Port,
			CreateSchemaAllowed: ic.SchemaCreationAllowed(),
			Labels:              ic.Labels,
		}
		inst := services.NewDatabaseInstance(
			info,
			manager,
			urls,
			repositories.NewSchemaRepository(db, ic.InstanceName, encryptor),
			services.NewCachedResourceUsage(manager, hotel.ResourceUseCollectInterval, logger),
			settings,
			logger,
		)
		inst.RegisterIntegration(auditor)
		return inst, nil
	}
}
