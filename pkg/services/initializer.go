package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
)

// InstanceBuilder connects to one configured server and wraps it.
type InstanceBuilder func(ctx context.Context, cfg config.InstanceConfig) (*DatabaseInstance, error)

// Initializer registers configured instances in the background, retrying the
// ones that fail, and wires the external schema manager once all are up.
type Initializer struct {
	admin     *AdminService
	instances []config.InstanceConfig
	build     InstanceBuilder
	external  *ExternalSchemaManager
	delay     time.Duration
	logger    *zap.Logger
}

// NewInitializer creates an initializer. delay is the wait between passes.
func NewInitializer(
	admin *AdminService,
	instances []config.InstanceConfig,
	build InstanceBuilder,
	external *ExternalSchemaManager,
	delay time.Duration,
	logger *zap.Logger,
) *Initializer {
	return &Initializer{
		admin:     admin,
		instances: instances,
		build:     build,
		external:  external,
		delay:     delay,
		logger:    logger.Named("initializer"),
	}
}

// Start runs registration in a goroutine. The returned channel is closed once
// every instance is registered, or when ctx is cancelled.
func (i *Initializer) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		i.run(ctx)
	}()
	return done
}

func (i *Initializer) run(ctx context.Context) {
	pending := i.instances
	for attempt := 1; ; attempt++ {
		pending = i.registerPass(ctx, pending)
		if len(pending) == 0 {
			break
		}

		i.logger.Warn("Some database instances could not be registered, retrying",
			zap.Int("pending", len(pending)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", i.delay))

		select {
		case <-ctx.Done():
			i.logger.Info("Instance registration stopped", zap.Int("pending", len(pending)))
			return
		case <-time.After(i.delay):
		}
	}

	i.admin.SetExternalSchemaManager(i.external)
	i.logger.Info("All database instances registered", zap.Int("count", len(i.instances)))
}

// registerPass tries every pending instance once and returns the failures.
func (i *Initializer) registerPass(ctx context.Context, pending []config.InstanceConfig) []config.InstanceConfig {
	var failed []config.InstanceConfig
	for _, cfg := range pending {
		inst, err := i.build(ctx, cfg)
		if err == nil {
			if err = inst.Initialize(ctx); err != nil {
				_ = inst.Close()
			}
		}
		if err != nil {
			i.logger.Error("Failed to register database instance",
				zap.String("instance", cfg.InstanceName),
				zap.String("host", cfg.Host),
				zap.String("error", logging.SanitizeError(err)))
			failed = append(failed, cfg)
			continue
		}
		i.admin.RegisterInstance(inst)
	}
	return failed
}
