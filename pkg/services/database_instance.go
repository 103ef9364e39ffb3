package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/repositories"
	"github.com/ekaya-inc/dbhotel/pkg/retry"
)

// disposableUserSuffix marks schemas created by automated test jobs.
const disposableUserSuffix = ":jenkins-builder"

// LifecycleSettings are the instance wide defaults for the soft delete lifecycle.
type LifecycleSettings struct {
	// DefaultCooldown applies when a delete does not name its own cooldown.
	DefaultCooldown time.Duration
	// StaleCooldown is the cooldown given to schemas retired by the stale sweep.
	StaleCooldown time.Duration
	// StaleLookback is how long a schema must go unused to count as stale.
	StaleLookback time.Duration
	// DropAllowed enables permanent deletion.
	DropAllowed bool
}

// SweepResult reports what a bulk operation did. Failures never abort a sweep.
type SweepResult struct {
	Succeeded []string
	Failed    map[string]error
}

// Err joins every failure, or returns nil.
func (r *SweepResult) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for name, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// DatabaseInstance manages the schemas of one physical server together with
// their metadata.
type DatabaseInstance struct {
	info         models.InstanceInfo
	manager      engine.Manager
	builder      *SchemaBuilder
	loader       *SchemaLoader
	repo         repositories.SchemaRepository
	settings     LifecycleSettings
	integrations *integrations
	now          func() time.Time
	logger       *zap.Logger
}

// NewDatabaseInstance wires an instance. repo must be scoped to info.InstanceName.
func NewDatabaseInstance(
	info models.InstanceInfo,
	manager engine.Manager,
	urls engine.URLBuilder,
	repo repositories.SchemaRepository,
	usage ResourceUsageCollector,
	settings LifecycleSettings,
	logger *zap.Logger,
) *DatabaseInstance {
	logger = logger.Named("database_instance").With(zap.String("instance", info.InstanceName))
	return &DatabaseInstance{
		info:     info,
		manager:  manager,
		builder:  &SchemaBuilder{Instance: info, URLBuilder: urls},
		loader:   &SchemaLoader{repo: repo, manager: manager, usage: usage, logger: logger},
		repo:     repo,
		settings: settings,
		integrations: &integrations{
			logger: logger,
		},
		now:    time.Now,
		logger: logger,
	}
}

// Info describes the server.
func (d *DatabaseInstance) Info() models.InstanceInfo {
	return d.info
}

// Initialize checks that the server is reachable with the admin credentials.
// Transient failures are retried briefly; the initializer retries the rest.
func (d *DatabaseInstance) Initialize(ctx context.Context) error {
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		return d.manager.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("instance %s unreachable: %w", d.info.InstanceName, err)
	}
	return nil
}

// Close releases the admin connection.
func (d *DatabaseInstance) Close() error {
	return d.manager.Close()
}

// RegisterIntegration adds a lifecycle listener.
func (d *DatabaseInstance) RegisterIntegration(i Integration) {
	d.integrations.register(i)
}

// FindSchemaByID returns the assembled schema or apperrors.ErrNotFound.
func (d *DatabaseInstance) FindSchemaByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.DatabaseSchema, error) {
	row, err := d.repo.FindSchemaDataByID(ctx, id, activeOnly)
	if err != nil {
		return nil, err
	}
	return d.assembleOne(ctx, row)
}

// FindSchemaByName returns the active schema with the given name or apperrors.ErrNotFound.
func (d *DatabaseInstance) FindSchemaByName(ctx context.Context, name string) (*models.DatabaseSchema, error) {
	row, err := d.repo.FindSchemaDataByName(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return d.assembleOne(ctx, row)
}

func (d *DatabaseInstance) assembleOne(ctx context.Context, row *models.SchemaData) (*models.DatabaseSchema, error) {
	lookup, err := d.loader.FetchForEach(ctx, []*models.SchemaData{row})
	if err != nil {
		return nil, err
	}
	s, ok := d.builder.Create(row, lookup)
	if !ok {
		return nil, fmt.Errorf("schema %s has no physical schema: %w", row.Name, apperrors.ErrNotFound)
	}
	return s, nil
}

// FindAllSchemas lists active schemas matching labels. Without labels every
// lookup table is read in bulk; with labels the metadata store narrows the rows
// first and the rest is fetched per row.
func (d *DatabaseInstance) FindAllSchemas(ctx context.Context, labels models.Labels) ([]*models.DatabaseSchema, error) {
	active := true
	return d.findAll(ctx, repositories.SchemaDataFilter{Active: &active, Labels: labels})
}

// FindAllSchemasIgnoreActive lists every schema, active or cooling down.
func (d *DatabaseInstance) FindAllSchemasIgnoreActive(ctx context.Context) ([]*models.DatabaseSchema, error) {
	return d.findAll(ctx, repositories.SchemaDataFilter{})
}

// FindAllInactiveSchemas lists schemas in cooldown matching labels.
func (d *DatabaseInstance) FindAllInactiveSchemas(ctx context.Context, labels models.Labels) ([]*models.DatabaseSchema, error) {
	inactive := false
	return d.findAll(ctx, repositories.SchemaDataFilter{Active: &inactive, Labels: labels})
}

func (d *DatabaseInstance) findAll(ctx context.Context, filter repositories.SchemaDataFilter) ([]*models.DatabaseSchema, error) {
	filter.Type = models.SchemaTypeManaged
	rows, err := d.repo.FindSchemaData(ctx, filter)
	if err != nil {
		return nil, err
	}

	var lookup *SchemaLookup
	if len(filter.Labels) == 0 {
		lookup, err = d.loader.FetchAll(ctx)
	} else {
		lookup, err = d.loader.FetchForEach(ctx, rows)
	}
	if err != nil {
		return nil, err
	}
	return d.builder.CreateMany(rows, lookup), nil
}

// CreateSchema creates the physical schema and then records it. Empty name or
// password are generated.
func (d *DatabaseInstance) CreateSchema(ctx context.Context, name, password string, labels models.Labels) (*models.DatabaseSchema, error) {
	if !d.info.CreateSchemaAllowed {
		return nil, fmt.Errorf("schema creation on %s: %w", d.info.InstanceName, apperrors.ErrOperationDisabled)
	}

	var err error
	if name == "" {
		if name, err = GenerateSchemaName(); err != nil {
			return nil, err
		}
	} else {
		exists, err := d.manager.Exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("schema %s already exists: %w", name, apperrors.ErrConflict)
		}
	}
	if password == "" {
		if password, err = GeneratePassword(); err != nil {
			return nil, err
		}
	}

	physicalName, err := d.manager.Create(ctx, name, password)
	if err != nil {
		return nil, err
	}

	var schema *models.DatabaseSchema
	err = d.repo.InTx(ctx, func(ctx context.Context) error {
		row, err := d.repo.CreateSchemaData(ctx, physicalName, models.SchemaTypeManaged, d.now().UTC())
		if err != nil {
			return err
		}
		user := &models.User{SchemaID: row.ID, Name: physicalName, Password: password, Type: models.UserTypeSchema}
		if err := d.repo.CreateUser(ctx, user); err != nil {
			return err
		}

		schema, err = d.FindSchemaByID(ctx, row.ID, true)
		if err != nil {
			return fmt.Errorf("schema %s missing right after creation: %w: %w", physicalName, apperrors.ErrConsistency, err)
		}

		if err := d.repo.ReplaceLabels(ctx, row.ID, labels); err != nil {
			return err
		}
		schema.SetLabels(labels)
		return nil
	})
	if err != nil {
		d.dropOrphan(ctx, physicalName, err)
		return nil, err
	}

	d.logger.Info("Schema created", zap.String("schema", physicalName), zap.String("schema_id", schema.ID.String()))
	d.integrations.schemaCreated(ctx, schema)
	return schema, nil
}

// dropOrphan removes a physical schema whose metadata could not be recorded.
func (d *DatabaseInstance) dropOrphan(ctx context.Context, name string, cause error) {
	d.logger.Error("Failed to record schema metadata, dropping physical schema",
		zap.String("schema", name),
		zap.String("error", logging.SanitizeError(cause)))
	if err := d.manager.Delete(ctx, name); err != nil {
		d.logger.Error("Failed to drop orphaned physical schema",
			zap.String("schema", name),
			zap.String("error", logging.SanitizeError(err)))
	}
}

// DeactivateSchema moves an active schema into cooldown and rotates its
// physical password so existing clients lose access. cooldown nil uses the
// default. The metadata update is rolled back when the rotation fails.
func (d *DatabaseInstance) DeactivateSchema(ctx context.Context, name string, cooldown *time.Duration) (*models.DatabaseSchema, error) {
	period := d.settings.DefaultCooldown
	if cooldown != nil {
		period = *cooldown
	}

	schema, err := d.FindSchemaByName(ctx, name)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	deleteAfter := now.Add(period)
	err = d.repo.InTx(ctx, func(ctx context.Context) error {
		if err := d.repo.DeactivateSchemaData(ctx, schema.ID, now, deleteAfter); err != nil {
			return err
		}
		return d.rotatePassword(ctx, schema.Name)
	})
	if err != nil {
		return nil, err
	}
	schema.Active = false
	schema.SetToCooldownAt = &now
	schema.DeleteAfter = &deleteAfter

	d.logger.Info("Schema moved to cooldown",
		zap.String("schema", schema.Name),
		zap.Duration("cooldown", period),
		zap.Time("delete_after", deleteAfter))
	d.integrations.schemaDeleted(ctx, schema, period)
	return schema, nil
}

// rotatePassword changes the password on the server only. The stored
// credential is left untouched.
func (d *DatabaseInstance) rotatePassword(ctx context.Context, name string) error {
	password, err := GeneratePassword()
	if err != nil {
		return err
	}
	return d.manager.UpdatePassword(ctx, name, password)
}

// RestoreSchema returns a schema in cooldown to active. The stored
// credentials are returned unchanged.
func (d *DatabaseInstance) RestoreSchema(ctx context.Context, schema *models.DatabaseSchema) (*models.DatabaseSchema, error) {
	if err := d.repo.ReactivateSchemaData(ctx, schema.ID); err != nil {
		return nil, err
	}
	schema.Active = true
	schema.SetToCooldownAt = nil
	schema.DeleteAfter = nil

	d.logger.Info("Schema restored", zap.String("schema", schema.Name))
	d.integrations.schemaReactivated(ctx, schema)
	return schema, nil
}

// PermanentlyDeleteSchema removes the metadata and drops the physical schema,
// whatever its active flag. A failed drop keeps the metadata row.
func (d *DatabaseInstance) PermanentlyDeleteSchema(ctx context.Context, name string) error {
	if !d.settings.DropAllowed {
		return fmt.Errorf("permanent deletion on %s: %w", d.info.InstanceName, apperrors.ErrOperationDisabled)
	}

	row, err := d.repo.FindSchemaDataByName(ctx, name, false)
	if err != nil {
		return err
	}
	err = d.repo.InTx(ctx, func(ctx context.Context) error {
		if err := d.repo.DeleteSchemaData(ctx, row.ID); err != nil {
			return err
		}
		return d.manager.Delete(ctx, row.Name)
	})
	if err != nil {
		return err
	}

	d.logger.Info("Schema permanently deleted", zap.String("schema", row.Name))
	return nil
}

// ReplaceLabels replaces the full label set of a schema.
func (d *DatabaseInstance) ReplaceLabels(ctx context.Context, schema *models.DatabaseSchema, labels models.Labels) (*models.DatabaseSchema, error) {
	if err := d.repo.ReplaceLabels(ctx, schema.ID, labels); err != nil {
		return nil, err
	}
	schema.SetLabels(labels)
	d.integrations.schemaUpdated(ctx, schema)
	return schema, nil
}

// FindAllStaleSchemas lists active schemas nobody has used within the look
// back window. Only schemas never logged into, or created by automated test
// jobs, qualify.
func (d *DatabaseInstance) FindAllStaleSchemas(ctx context.Context) ([]*models.DatabaseSchema, error) {
	schemas, err := d.FindAllSchemas(ctx, nil)
	if err != nil {
		return nil, err
	}
	cutoff := d.now().Add(-d.settings.StaleLookback)

	var stale []*models.DatabaseSchema
	for _, s := range schemas {
		if !s.Active {
			continue
		}
		disposable := strings.HasSuffix(s.Labels.Value("userId"), disposableUserSuffix)
		if (s.IsUnused() || disposable) && s.LastUsedOrCreatedDate().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	return stale, nil
}

// DeleteStaleSchemasByCooldown moves every stale schema into cooldown.
func (d *DatabaseInstance) DeleteStaleSchemasByCooldown(ctx context.Context) (*SweepResult, error) {
	stale, err := d.FindAllStaleSchemas(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(stale))
	for i, s := range stale {
		names[i] = s.Name
	}

	cooldown := d.settings.StaleCooldown
	result := d.sweep(ctx, "deactivate_stale", names, func(ctx context.Context, name string) error {
		_, err := d.DeactivateSchema(ctx, name, &cooldown)
		return err
	})
	return result, nil
}

// DeleteSchemasWithExpiredCooldowns permanently deletes schemas whose
// cooldown has run out.
func (d *DatabaseInstance) DeleteSchemasWithExpiredCooldowns(ctx context.Context) (*SweepResult, error) {
	rows, err := d.repo.FindSchemaDataDeleteAfterBefore(ctx, d.now().UTC())
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return d.sweep(ctx, "purge_expired", names, d.PermanentlyDeleteSchema), nil
}

// sweep applies fn to every name concurrently, at most one per CPU.
func (d *DatabaseInstance) sweep(ctx context.Context, op string, names []string, fn func(ctx context.Context, name string) error) *SweepResult {
	result := &SweepResult{Failed: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, name := range names {
		g.Go(func() error {
			err := fn(gctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Error("Sweep item failed",
					zap.String("operation", op),
					zap.String("schema", name),
					zap.String("error", logging.SanitizeError(err)))
				result.Failed[name] = err
				return nil
			}
			result.Succeeded = append(result.Succeeded, name)
			return nil
		})
	}
	_ = g.Wait()

	if len(names) > 0 {
		d.logger.Info("Sweep finished",
			zap.String("operation", op),
			zap.Int("succeeded", len(result.Succeeded)),
			zap.Int("failed", len(result.Failed)))
	}
	return result
}
