package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// ConnectionTesterFactory opens test connections from schema URLs.
// engine.Factory satisfies it.
type ConnectionTesterFactory interface {
	NewConnectionTester(ctx context.Context, url, username, password string) (engine.ConnectionTester, error)
}

// HotelService is the fleet wide view over every instance and the external
// schemas.
type HotelService struct {
	admin   *AdminService
	testers ConnectionTesterFactory
	logger  *zap.Logger
}

// NewHotelService creates the facade.
func NewHotelService(admin *AdminService, testers ConnectionTesterFactory, logger *zap.Logger) *HotelService {
	return &HotelService{
		admin:   admin,
		testers: testers,
		logger:  logger.Named("hotel"),
	}
}

// FindSchemaByID looks the id up on every instance and among external
// schemas. The returned instance is nil for external schemas. An id found in
// more than one place is a consistency error.
func (h *HotelService) FindSchemaByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.DatabaseSchema, *DatabaseInstance, error) {
	var (
		found *models.DatabaseSchema
		owner *DatabaseInstance
		hits  []string
	)

	for _, inst := range h.admin.FindAllInstances(nil) {
		s, err := inst.FindSchemaByID(ctx, id, activeOnly)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		found, owner = s, inst
		hits = append(hits, inst.Info().InstanceName)
	}

	if ext := h.admin.ExternalSchemaManager(); ext != nil {
		s, err := ext.FindSchemaByID(ctx, id)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
		case err != nil:
			return nil, nil, err
		default:
			found, owner = s, nil
			hits = append(hits, "external")
		}
	}

	switch len(hits) {
	case 0:
		return nil, nil, fmt.Errorf("schema %s: %w", id, apperrors.ErrNotFound)
	case 1:
		return found, owner, nil
	default:
		h.logger.Error("Schema id found in more than one place",
			zap.String("schema_id", id.String()),
			zap.Strings("owners", hits))
		return nil, nil, fmt.Errorf("schema %s found on %v: %w", id, hits, apperrors.ErrConsistency)
	}
}

// FindAllSchemas lists active schemas matching labels, optionally restricted
// to one engine.
func (h *HotelService) FindAllSchemas(ctx context.Context, engine *models.Engine, labels models.Labels) ([]*models.DatabaseSchema, error) {
	var out []*models.DatabaseSchema
	for _, inst := range h.admin.FindAllInstances(engine) {
		schemas, err := inst.FindAllSchemas(ctx, labels)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.Info().InstanceName, err)
		}
		out = append(out, schemas...)
	}

	external, err := h.externalSchemas(ctx, engine)
	if err != nil {
		return nil, err
	}
	out = append(out, FindAllMatching(external, labels)...)
	return out, nil
}

func (h *HotelService) externalSchemas(ctx context.Context, engine *models.Engine) ([]*models.DatabaseSchema, error) {
	ext := h.admin.ExternalSchemaManager()
	if ext == nil {
		return nil, nil
	}
	all, err := ext.FindAllSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("external schemas: %w", err)
	}
	if engine == nil {
		return all, nil
	}
	var out []*models.DatabaseSchema
	for _, s := range all {
		if e, err := models.EngineFromURL(s.ConnectionURL); err == nil && e == *engine {
			out = append(out, s)
		}
	}
	return out, nil
}

// FindAllStaleSchemas lists stale schemas on every instance.
func (h *HotelService) FindAllStaleSchemas(ctx context.Context) ([]*models.DatabaseSchema, error) {
	var out []*models.DatabaseSchema
	for _, inst := range h.admin.FindAllInstances(nil) {
		schemas, err := inst.FindAllStaleSchemas(ctx)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.Info().InstanceName, err)
		}
		out = append(out, schemas...)
	}
	return out, nil
}

// FindAllInactiveSchemas lists schemas in cooldown on every instance.
func (h *HotelService) FindAllInactiveSchemas(ctx context.Context, labels models.Labels) ([]*models.DatabaseSchema, error) {
	var out []*models.DatabaseSchema
	for _, inst := range h.admin.FindAllInstances(nil) {
		schemas, err := inst.FindAllInactiveSchemas(ctx, labels)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.Info().InstanceName, err)
		}
		out = append(out, schemas...)
	}
	return out, nil
}

// CreateSchema places a new schema on an instance chosen for req.
func (h *HotelService) CreateSchema(ctx context.Context, req models.InstanceRequirements, labels models.Labels) (*models.DatabaseSchema, error) {
	inst, err := h.admin.SelectInstance(req)
	if err != nil {
		return nil, err
	}
	return inst.CreateSchema(ctx, "", "", labels)
}

// RegisterExternalSchema records a schema this system does not own.
func (h *HotelService) RegisterExternalSchema(ctx context.Context, username, password, url string, labels models.Labels) (*models.DatabaseSchema, error) {
	ext, err := h.external()
	if err != nil {
		return nil, err
	}
	return ext.RegisterSchema(ctx, username, password, url, labels)
}

// DeleteSchemaByID moves a managed schema into cooldown, or forgets an
// external one.
func (h *HotelService) DeleteSchemaByID(ctx context.Context, id uuid.UUID, cooldown *time.Duration) error {
	schema, owner, err := h.FindSchemaByID(ctx, id, true)
	if err != nil {
		return err
	}
	if owner == nil {
		ext, err := h.external()
		if err != nil {
			return err
		}
		return ext.DeleteSchema(ctx, id)
	}
	_, err = owner.DeactivateSchema(ctx, schema.Name, cooldown)
	return err
}

// UpdateSchema replaces labels when labels is non-nil. Connection overrides
// only apply to external schemas.
func (h *HotelService) UpdateSchema(ctx context.Context, id uuid.UUID, labels models.Labels, conn *models.ConnectionOverrides) (*models.DatabaseSchema, error) {
	schema, owner, err := h.FindSchemaByID(ctx, id, true)
	if err != nil {
		return nil, err
	}

	if owner != nil {
		if !conn.IsEmpty() {
			return nil, fmt.Errorf("connection details of managed schema %s cannot be changed: %w", schema.Name, apperrors.ErrInvalidInput)
		}
		if labels == nil {
			return schema, nil
		}
		return owner.ReplaceLabels(ctx, schema, labels)
	}

	ext, err := h.external()
	if err != nil {
		return nil, err
	}
	if labels != nil {
		if schema, err = ext.ReplaceLabels(ctx, schema, labels); err != nil {
			return nil, err
		}
	}
	if conn.IsEmpty() {
		return schema, nil
	}
	return ext.UpdateConnectionInfo(ctx, id, conn.Username, conn.URL, conn.Password)
}

// RestoreSchemaByID brings a managed schema back from cooldown.
func (h *HotelService) RestoreSchemaByID(ctx context.Context, id uuid.UUID) (*models.DatabaseSchema, error) {
	schema, owner, err := h.FindSchemaByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("external schema %s cannot be restored: %w", id, apperrors.ErrInvalidInput)
	}
	if schema.Active {
		return nil, fmt.Errorf("schema %s is not in cooldown: %w", id, apperrors.ErrNotFound)
	}
	return owner.RestoreSchema(ctx, schema)
}

// ValidateConnection reports whether the schema accepts its own credentials.
func (h *HotelService) ValidateConnection(ctx context.Context, id uuid.UUID) (bool, error) {
	schema, _, err := h.FindSchemaByID(ctx, id, true)
	if err != nil {
		return false, err
	}
	user := schema.User(models.UserTypeSchema)
	if user == nil {
		return false, fmt.Errorf("schema %s has no schema user: %w", id, apperrors.ErrConsistency)
	}
	return h.ValidateConnectionWith(ctx, schema.ConnectionURL, user.Name, user.Password)
}

// ValidateConnectionWith opens and closes one connection. Connection
// failures report false; only an unrecognised url is an error.
func (h *HotelService) ValidateConnectionWith(ctx context.Context, url, username, password string) (bool, error) {
	if _, err := models.EngineFromURL(url); err != nil {
		return false, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}

	tester, err := h.testers.NewConnectionTester(ctx, url, username, password)
	if err != nil {
		h.logger.Info("Connection validation failed",
			zap.String("url", logging.SanitizeConnectionString(url)),
			zap.String("error", logging.SanitizeError(err)))
		return false, nil
	}
	defer tester.Close()

	if err := tester.TestConnection(ctx); err != nil {
		h.logger.Info("Connection validation failed",
			zap.String("url", logging.SanitizeConnectionString(url)),
			zap.String("error", logging.SanitizeError(err)))
		return false, nil
	}
	return true, nil
}

// FindAllInstances describes every registered instance, optionally
// restricted to one engine.
func (h *HotelService) FindAllInstances(engine *models.Engine) []models.InstanceInfo {
	instances := h.admin.FindAllInstances(engine)
	out := make([]models.InstanceInfo, len(instances))
	for i, inst := range instances {
		out[i] = inst.Info()
	}
	return out
}

// DeleteUnusedSchemas moves the stale schemas of the instance on host into
// cooldown.
func (h *HotelService) DeleteUnusedSchemas(ctx context.Context, host string) (*SweepResult, error) {
	inst, err := h.admin.FindInstanceByHost(host)
	if err != nil {
		return nil, err
	}
	return inst.DeleteStaleSchemasByCooldown(ctx)
}

func (h *HotelService) external() (*ExternalSchemaManager, error) {
	ext := h.admin.ExternalSchemaManager()
	if ext == nil {
		return nil, fmt.Errorf("external schemas are not available yet: %w", apperrors.ErrOperationDisabled)
	}
	return ext, nil
}
