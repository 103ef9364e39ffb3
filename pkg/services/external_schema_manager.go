package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/repositories"
)

// ExternalSchemaManager tracks schemas on servers this system does not own.
// It records metadata and credentials only and never touches the server.
type ExternalSchemaManager struct {
	repo         repositories.SchemaRepository
	integrations *integrations
	now          func() time.Time
	logger       *zap.Logger
}

// NewExternalSchemaManager creates the manager. repo must be scoped to
// repositories.ExternalScope.
func NewExternalSchemaManager(repo repositories.SchemaRepository, logger *zap.Logger) *ExternalSchemaManager {
	logger = logger.Named("external_schemas")
	return &ExternalSchemaManager{
		repo:         repo,
		integrations: &integrations{logger: logger},
		now:          time.Now,
		logger:       logger,
	}
}

// RegisterIntegration adds a lifecycle listener.
func (m *ExternalSchemaManager) RegisterIntegration(i Integration) {
	m.integrations.register(i)
}

// RegisterSchema records an external schema reachable at url.
func (m *ExternalSchemaManager) RegisterSchema(ctx context.Context, username, password, url string, labels models.Labels) (*models.DatabaseSchema, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", apperrors.ErrInvalidInput)
	}
	if _, err := models.EngineFromURL(url); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}

	var id uuid.UUID
	err := m.repo.InTx(ctx, func(ctx context.Context) error {
		row, err := m.repo.CreateSchemaData(ctx, username, models.SchemaTypeExternal, m.now().UTC())
		if err != nil {
			return err
		}
		id = row.ID
		conn := &models.ExternalConnection{SchemaID: row.ID, URL: url, Username: username, Password: password}
		if err := m.repo.CreateExternalConnection(ctx, conn); err != nil {
			return err
		}
		user := &models.User{SchemaID: row.ID, Name: username, Password: password, Type: models.UserTypeSchema}
		if err := m.repo.CreateUser(ctx, user); err != nil {
			return err
		}
		return m.repo.ReplaceLabels(ctx, row.ID, labels)
	})
	if err != nil {
		return nil, err
	}

	schema, err := m.FindSchemaByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("external schema %s missing right after registration: %w: %w", id, apperrors.ErrConsistency, err)
	}
	m.logger.Info("External schema registered", zap.String("schema_id", id.String()), zap.String("username", username))
	m.integrations.schemaCreated(ctx, schema)
	return schema, nil
}

// FindSchemaByID returns the assembled external schema or apperrors.ErrNotFound.
func (m *ExternalSchemaManager) FindSchemaByID(ctx context.Context, id uuid.UUID) (*models.DatabaseSchema, error) {
	row, err := m.repo.FindSchemaDataByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	conn, err := m.repo.FindExternalConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	users, err := m.repo.FindUsersBySchemaID(ctx, id)
	if err != nil {
		return nil, err
	}
	labels, err := m.repo.FindLabelsBySchemaID(ctx, id)
	if err != nil {
		return nil, err
	}

	lookup := newSchemaLookup()
	lookup.Users[id] = users
	lookup.Labels[id] = labels
	return buildExternalSchema(row, conn, lookup), nil
}

// FindAllSchemas lists every external schema.
func (m *ExternalSchemaManager) FindAllSchemas(ctx context.Context) ([]*models.DatabaseSchema, error) {
	rows, err := m.repo.FindSchemaData(ctx, repositories.SchemaDataFilter{Type: models.SchemaTypeExternal})
	if err != nil {
		return nil, err
	}
	conns, err := m.repo.FindAllExternalConnections(ctx)
	if err != nil {
		return nil, err
	}
	users, err := m.repo.FindAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := m.repo.FindAllLabels(ctx)
	if err != nil {
		return nil, err
	}

	lookup := newSchemaLookup()
	lookup.Labels = labels
	for _, u := range users {
		lookup.Users[u.SchemaID] = append(lookup.Users[u.SchemaID], u)
	}

	out := make([]*models.DatabaseSchema, 0, len(rows))
	for _, row := range rows {
		out = append(out, buildExternalSchema(row, conns[row.ID], lookup))
	}
	return out, nil
}

// DeleteSchema removes the schema's metadata, users, labels and connection.
// External schemas have no cooldown.
func (m *ExternalSchemaManager) DeleteSchema(ctx context.Context, id uuid.UUID) error {
	schema, err := m.FindSchemaByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteSchemaData(ctx, id); err != nil {
		return err
	}
	m.logger.Info("External schema deleted", zap.String("schema_id", id.String()))
	m.integrations.schemaDeleted(ctx, schema, 0)
	return nil
}

// ReplaceLabels replaces the full label set of an external schema.
func (m *ExternalSchemaManager) ReplaceLabels(ctx context.Context, schema *models.DatabaseSchema, labels models.Labels) (*models.DatabaseSchema, error) {
	if err := m.repo.ReplaceLabels(ctx, schema.ID, labels); err != nil {
		return nil, err
	}
	schema.SetLabels(labels)
	m.integrations.schemaUpdated(ctx, schema)
	return schema, nil
}

// UpdateConnectionInfo changes any subset of username, url and password. A new
// username renames both the schema and its user.
func (m *ExternalSchemaManager) UpdateConnectionInfo(ctx context.Context, id uuid.UUID, username, url, password *string) (*models.DatabaseSchema, error) {
	if url != nil {
		if _, err := models.EngineFromURL(*url); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
		}
	}
	if username != nil && *username == "" {
		return nil, fmt.Errorf("username must not be empty: %w", apperrors.ErrInvalidInput)
	}

	err := m.repo.InTx(ctx, func(ctx context.Context) error {
		conn, err := m.repo.FindExternalConnection(ctx, id)
		if err != nil {
			return err
		}
		users, err := m.repo.FindUsersBySchemaID(ctx, id)
		if err != nil {
			return err
		}
		var user *models.User
		for _, u := range users {
			if u.Type == models.UserTypeSchema {
				user = u
				break
			}
		}

		if username != nil {
			if err := m.repo.UpdateSchemaName(ctx, id, *username); err != nil {
				return err
			}
			conn.Username = *username
			if user != nil {
				user.Name = *username
			}
		}
		if url != nil {
			conn.URL = *url
		}
		if password != nil {
			conn.Password = *password
			if user != nil {
				user.Password = *password
			}
		}

		if err := m.repo.UpdateExternalConnection(ctx, conn); err != nil {
			return err
		}
		if user != nil && (username != nil || password != nil) {
			return m.repo.UpdateUser(ctx, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	schema, err := m.FindSchemaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.integrations.schemaUpdated(ctx, schema)
	return schema, nil
}
