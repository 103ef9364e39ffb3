package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/crypto"
	"github.com/ekaya-inc/dbhotel/pkg/database"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// ExternalScope is the scope under which external schemas are stored.
const ExternalScope = "_external"

// SchemaDataFilter narrows FindSchemaData.
type SchemaDataFilter struct {
	Type models.SchemaType
	// Active restricts to active (true) or inactive (false) rows; nil matches both.
	Active *bool
	// Labels must all match. A nil value requires the label to be absent or valueless.
	Labels models.Labels
}

// SchemaRepository is the metadata store for one scope: a database instance,
// or ExternalScope. Every method only sees rows belonging to its scope.
type SchemaRepository interface {
	// InTx runs fn in one metadata transaction; repository calls made with the
	// derived context join it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Schema metadata rows
	CreateSchemaData(ctx context.Context, name string, schemaType models.SchemaType, createdAt time.Time) (*models.SchemaData, error)
	FindSchemaDataByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.SchemaData, error)
	FindSchemaDataByName(ctx context.Context, name string, activeOnly bool) (*models.SchemaData, error)
	FindSchemaData(ctx context.Context, filter SchemaDataFilter) ([]*models.SchemaData, error)
	// FindSchemaDataDeleteAfterBefore returns inactive rows whose delete_after is before t.
	FindSchemaDataDeleteAfterBefore(ctx context.Context, t time.Time) ([]*models.SchemaData, error)
	DeactivateSchemaData(ctx context.Context, id uuid.UUID, cooldownAt, deleteAfter time.Time) error
	ReactivateSchemaData(ctx context.Context, id uuid.UUID) error
	UpdateSchemaName(ctx context.Context, id uuid.UUID, name string) error
	// DeleteSchemaData removes the row together with its users, labels and external connection.
	DeleteSchemaData(ctx context.Context, id uuid.UUID) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	FindUsersBySchemaID(ctx context.Context, schemaID uuid.UUID) ([]*models.User, error)
	FindAllUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// Labels
	ReplaceLabels(ctx context.Context, schemaID uuid.UUID, labels models.Labels) error
	FindLabelsBySchemaID(ctx context.Context, schemaID uuid.UUID) (models.Labels, error)
	FindAllLabels(ctx context.Context) (map[uuid.UUID]models.Labels, error)

	// External connections
	CreateExternalConnection(ctx context.Context, conn *models.ExternalConnection) error
	FindExternalConnection(ctx context.Context, schemaID uuid.UUID) (*models.ExternalConnection, error)
	FindAllExternalConnections(ctx context.Context) (map[uuid.UUID]*models.ExternalConnection, error)
	UpdateExternalConnection(ctx context.Context, conn *models.ExternalConnection) error
}

// schemaRepository implements SchemaRepository using PostgreSQL.
// Passwords are encrypted with the optional encryptor before they are stored.
type schemaRepository struct {
	db        *database.DB
	scope     string
	encryptor *crypto.CredentialEncryptor
}

// NewSchemaRepository creates a repository scoped to one instance name.
func NewSchemaRepository(db *database.DB, scope string, encryptor *crypto.CredentialEncryptor) SchemaRepository {
	return &schemaRepository{
		db:        db,
		scope:     scope,
		encryptor: encryptor,
	}
}

const schemaDataColumns = "s.id, s.name, s.schema_type, s.active, s.created_date, s.set_to_cooldown_at, s.delete_after"

func (r *schemaRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.InTx(ctx, fn)
}

func (r *schemaRepository) q(ctx context.Context) database.Querier {
	return r.db.Querier(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanSchemaData(row pgx.Row) (*models.SchemaData, error) {
	var sd models.SchemaData
	var schemaType string
	err := row.Scan(
		&sd.ID,
		&sd.Name,
		&schemaType,
		&sd.Active,
		&sd.CreatedDate,
		&sd.SetToCooldownAt,
		&sd.DeleteAfter,
	)
	if err != nil {
		return nil, err
	}
	sd.SchemaType = models.SchemaType(schemaType)
	return &sd, nil
}

func collectSchemaData(rows pgx.Rows) ([]*models.SchemaData, error) {
	defer rows.Close()

	var result []*models.SchemaData
	for rows.Next() {
		sd, err := scanSchemaData(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema row: %w", err)
		}
		result = append(result, sd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema rows: %w", err)
	}
	return result, nil
}

// CreateSchemaData inserts a new active metadata row.
func (r *schemaRepository) CreateSchemaData(ctx context.Context, name string, schemaType models.SchemaType, createdAt time.Time) (*models.SchemaData, error) {
	sd := &models.SchemaData{
		ID:          uuid.New(),
		Name:        name,
		SchemaType:  schemaType,
		Active:      true,
		CreatedDate: createdAt,
	}

	query := `
		INSERT INTO dbh_schemas (id, instance_name, name, schema_type, active, created_date)
		VALUES ($1, $2, $3, $4, true, $5)`

	if _, err := r.q(ctx).Exec(ctx, query, sd.ID, r.scope, sd.Name, string(sd.SchemaType), sd.CreatedDate); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("schema %q already registered: %w", name, apperrors.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create schema data: %w", err)
	}
	return sd, nil
}

// FindSchemaDataByID retrieves a metadata row by id.
func (r *schemaRepository) FindSchemaDataByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.SchemaData, error) {
	query := `SELECT ` + schemaDataColumns + ` FROM dbh_schemas s WHERE s.instance_name = $1 AND s.id = $2`
	if activeOnly {
		query += ` AND s.active = true`
	}

	sd, err := scanSchemaData(r.q(ctx).QueryRow(ctx, query, r.scope, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find schema data: %w", err)
	}
	return sd, nil
}

// FindSchemaDataByName retrieves a metadata row by physical name.
func (r *schemaRepository) FindSchemaDataByName(ctx context.Context, name string, activeOnly bool) (*models.SchemaData, error) {
	query := `SELECT ` + schemaDataColumns + ` FROM dbh_schemas s WHERE s.instance_name = $1 AND s.name = $2`
	if activeOnly {
		query += ` AND s.active = true`
	}

	sd, err := scanSchemaData(r.q(ctx).QueryRow(ctx, query, r.scope, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find schema data: %w", err)
	}
	return sd, nil
}

// FindSchemaData lists metadata rows of one type, optionally narrowed by
// active flag and labels. Label matching runs in the database.
func (r *schemaRepository) FindSchemaData(ctx context.Context, filter SchemaDataFilter) ([]*models.SchemaData, error) {
	query, args := buildSchemaDataQuery(r.scope, filter)

	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema data: %w", err)
	}
	return collectSchemaData(rows)
}

func buildSchemaDataQuery(scope string, filter SchemaDataFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + schemaDataColumns + ` FROM dbh_schemas s WHERE s.instance_name = $1 AND s.schema_type = $2`)
	args := []any{scope, string(filter.Type)}

	if filter.Active != nil {
		args = append(args, *filter.Active)
		fmt.Fprintf(&sb, ` AND s.active = $%d`, len(args))
	}

	names := make([]string, 0, len(filter.Labels))
	for name := range filter.Labels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := filter.Labels[name]
		args = append(args, name)
		if value == nil {
			fmt.Fprintf(&sb, ` AND NOT EXISTS (SELECT 1 FROM dbh_labels l WHERE l.schema_id = s.id AND l.name = $%d AND l.value IS NOT NULL)`, len(args))
			continue
		}
		args = append(args, *value)
		fmt.Fprintf(&sb, ` AND EXISTS (SELECT 1 FROM dbh_labels l WHERE l.schema_id = s.id AND l.name = $%d AND l.value = $%d)`, len(args)-1, len(args))
	}

	sb.WriteString(` ORDER BY s.created_date`)
	return sb.String(), args
}

// FindSchemaDataDeleteAfterBefore returns cooled down managed rows due for purge.
func (r *schemaRepository) FindSchemaDataDeleteAfterBefore(ctx context.Context, t time.Time) ([]*models.SchemaData, error) {
	query := `SELECT ` + schemaDataColumns + ` FROM dbh_schemas s
		WHERE s.instance_name = $1 AND s.active = false AND s.delete_after < $2
		ORDER BY s.delete_after`

	rows, err := r.q(ctx).Query(ctx, query, r.scope, t)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired schema data: %w", err)
	}
	return collectSchemaData(rows)
}

// DeactivateSchemaData moves a row into cooldown.
func (r *schemaRepository) DeactivateSchemaData(ctx context.Context, id uuid.UUID, cooldownAt, deleteAfter time.Time) error {
	query := `
		UPDATE dbh_schemas
		SET active = false, set_to_cooldown_at = $3, delete_after = $4
		WHERE instance_name = $1 AND id = $2`

	tag, err := r.q(ctx).Exec(ctx, query, r.scope, id, cooldownAt, deleteAfter)
	if err != nil {
		return fmt.Errorf("failed to deactivate schema data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ReactivateSchemaData clears cooldown fields and marks the row active.
func (r *schemaRepository) ReactivateSchemaData(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE dbh_schemas
		SET active = true, set_to_cooldown_at = NULL, delete_after = NULL
		WHERE instance_name = $1 AND id = $2`

	tag, err := r.q(ctx).Exec(ctx, query, r.scope, id)
	if err != nil {
		return fmt.Errorf("failed to reactivate schema data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpdateSchemaName renames a metadata row. Only external schemas are renamed.
func (r *schemaRepository) UpdateSchemaName(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.q(ctx).Exec(ctx, `UPDATE dbh_schemas SET name = $3 WHERE instance_name = $1 AND id = $2`, r.scope, id, name)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schema %q already registered: %w", name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to rename schema data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeleteSchemaData removes a metadata row and everything hanging off it.
func (r *schemaRepository) DeleteSchemaData(ctx context.Context, id uuid.UUID) error {
	return r.InTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM dbh_labels WHERE schema_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete labels: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM dbh_users WHERE schema_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete users: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM dbh_external_connections WHERE schema_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete external connection: %w", err)
		}
		tag, err := q.Exec(ctx, `DELETE FROM dbh_schemas WHERE instance_name = $1 AND id = $2`, r.scope, id)
		if err != nil {
			return fmt.Errorf("failed to delete schema data: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}
