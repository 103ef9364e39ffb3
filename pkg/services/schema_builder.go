package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/adapters/engine"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/repositories"
)

// SchemaLookup holds everything needed to assemble schemas from metadata rows.
// Physical records and sizes are keyed by upper-cased schema name.
type SchemaLookup struct {
	Physical map[string]*models.PhysicalSchema
	Users    map[uuid.UUID][]*models.User
	Labels   map[uuid.UUID]models.Labels
	Sizes    map[string]float64
}

func newSchemaLookup() *SchemaLookup {
	return &SchemaLookup{
		Physical: make(map[string]*models.PhysicalSchema),
		Users:    make(map[uuid.UUID][]*models.User),
		Labels:   make(map[uuid.UUID]models.Labels),
		Sizes:    make(map[string]float64),
	}
}

func lookupKey(name string) string {
	return strings.ToUpper(name)
}

// SchemaBuilder assembles managed schemas of one instance.
type SchemaBuilder struct {
	Instance   models.InstanceInfo
	URLBuilder engine.URLBuilder
}

// CreateMany assembles every row that has a physical schema. Rows whose
// physical schema is gone are left out.
func (b *SchemaBuilder) CreateMany(rows []*models.SchemaData, lookup *SchemaLookup) []*models.DatabaseSchema {
	out := make([]*models.DatabaseSchema, 0, len(rows))
	for _, row := range rows {
		if s, ok := b.Create(row, lookup); ok {
			out = append(out, s)
		}
	}
	return out
}

// Create assembles one row; ok is false when the physical schema is missing.
func (b *SchemaBuilder) Create(row *models.SchemaData, lookup *SchemaLookup) (*models.DatabaseSchema, bool) {
	physical, ok := lookup.Physical[lookupKey(row.Name)]
	if !ok {
		return nil, false
	}

	info := b.Instance
	s := newDatabaseSchema(row, lookup)
	s.Instance = &info
	s.ConnectionURL = b.URLBuilder.Build(info.Host, info.Port, row.Name)
	s.LastUsedDate = physical.LastLogin
	s.SizeMb = lookup.Sizes[lookupKey(row.Name)]
	return s, true
}

// buildExternalSchema assembles an external schema. Its URL is the one the
// caller registered, verbatim.
func buildExternalSchema(row *models.SchemaData, conn *models.ExternalConnection, lookup *SchemaLookup) *models.DatabaseSchema {
	s := newDatabaseSchema(row, lookup)
	if conn != nil {
		s.ConnectionURL = conn.URL
	}
	return s
}

func newDatabaseSchema(row *models.SchemaData, lookup *SchemaLookup) *models.DatabaseSchema {
	s := &models.DatabaseSchema{
		ID:              row.ID,
		Active:          row.Active,
		Name:            row.Name,
		CreatedDate:     row.CreatedDate,
		SetToCooldownAt: row.SetToCooldownAt,
		DeleteAfter:     row.DeleteAfter,
		Type:            row.SchemaType,
		Users:           []*models.User{},
	}
	for _, u := range lookup.Users[row.ID] {
		s.AddUser(u)
	}
	s.SetLabels(lookup.Labels[row.ID])
	return s
}

// SchemaLoader fetches lookup data for assembly.
type SchemaLoader struct {
	repo    repositories.SchemaRepository
	manager engine.Manager
	usage   ResourceUsageCollector
	logger  *zap.Logger
}

// FetchAll loads every physical schema, user, label and size of the instance
// with one query each. Used for unfiltered listings.
func (l *SchemaLoader) FetchAll(ctx context.Context) (*SchemaLookup, error) {
	lookup := newSchemaLookup()

	physical, err := l.manager.FindAllNonSystem(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list physical schemas: %w", err)
	}
	for _, p := range physical {
		lookup.Physical[lookupKey(p.Username)] = p
	}

	users, err := l.repo.FindAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		lookup.Users[u.SchemaID] = append(lookup.Users[u.SchemaID], u)
	}

	labels, err := l.repo.FindAllLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	lookup.Labels = labels

	lookup.Sizes = l.sizes(ctx)
	return lookup, nil
}

// FetchForEach loads lookup data row by row. Used when the metadata store has
// already narrowed the rows, so a full scan of the server would be wasted.
func (l *SchemaLoader) FetchForEach(ctx context.Context, rows []*models.SchemaData) (*SchemaLookup, error) {
	lookup := newSchemaLookup()
	if len(rows) == 0 {
		return lookup, nil
	}

	for _, row := range rows {
		p, err := l.manager.FindByName(ctx, row.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to find physical schema %s: %w", row.Name, err)
		}
		if p != nil {
			lookup.Physical[lookupKey(row.Name)] = p
		}

		users, err := l.repo.FindUsersBySchemaID(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find users of %s: %w", row.Name, err)
		}
		lookup.Users[row.ID] = users

		labels, err := l.repo.FindLabelsBySchemaID(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find labels of %s: %w", row.Name, err)
		}
		lookup.Labels[row.ID] = labels
	}

	lookup.Sizes = l.sizes(ctx)
	return lookup, nil
}

// sizes never fails a listing; unmeasured schemas report 0.
func (l *SchemaLoader) sizes(ctx context.Context) map[string]float64 {
	if l.usage == nil {
		return map[string]float64{}
	}
	sizes, err := l.usage.SchemaSizes(ctx)
	if err != nil {
		l.logger.Warn("Schema sizes unavailable", zap.String("error", logging.SanitizeError(err)))
		return map[string]float64{}
	}
	return sizes
}
