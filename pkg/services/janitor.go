package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/logging"
)

// Janitor periodically retires stale schemas and purges expired cooldowns on
// every registered instance.
type Janitor struct {
	admin  *AdminService
	logger *zap.Logger
}

// NewJanitor creates a janitor over the registry.
func NewJanitor(admin *AdminService, logger *zap.Logger) *Janitor {
	return &Janitor{admin: admin, logger: logger.Named("janitor")}
}

// RunScheduler starts the background loop. The first run happens after
// initialDelay, then every interval.
func (j *Janitor) RunScheduler(ctx context.Context, initialDelay, interval time.Duration) {
	go func() {
		j.logger.Info("Janitor started",
			zap.Duration("initial_delay", initialDelay),
			zap.Duration("interval", interval))

		select {
		case <-ctx.Done():
			return
		case <-time.After(initialDelay):
		}
		j.RunOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				j.logger.Info("Janitor stopped")
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce sweeps every instance: stale schemas first, then expired cooldowns.
// Failures are logged and the next instance is still processed.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, inst := range j.admin.FindAllInstances(nil) {
		name := inst.Info().InstanceName

		if _, err := inst.DeleteStaleSchemasByCooldown(ctx); err != nil {
			j.logger.Error("Stale schema sweep failed",
				zap.String("instance", name),
				zap.String("error", logging.SanitizeError(err)))
		}

		if _, err := inst.DeleteSchemasWithExpiredCooldowns(ctx); err != nil {
			j.logger.Error("Expired cooldown sweep failed",
				zap.String("instance", name),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
}
