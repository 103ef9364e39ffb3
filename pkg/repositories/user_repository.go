package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// CreateUser stores a credential record for a schema. Passwords are encrypted
// when an encryptor is configured.
func (r *schemaRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	password, err := r.encryptor.Encrypt(user.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	query := `
		INSERT INTO dbh_users (id, schema_id, username, password, user_type)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.q(ctx).Exec(ctx, query, user.ID, user.SchemaID, user.Name, password, string(user.Type)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q already exists for schema: %w", user.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUsersBySchemaID returns the users of one schema ordered by name.
func (r *schemaRepository) FindUsersBySchemaID(ctx context.Context, schemaID uuid.UUID) ([]*models.User, error) {
	query := `
		SELECT u.id, u.schema_id, u.username, u.password, u.user_type
		FROM dbh_users u
		WHERE u.schema_id = $1
		ORDER BY u.username`

	rows, err := r.q(ctx).Query(ctx, query, schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return r.collectUsers(rows)
}

// FindAllUsers returns every user of every schema in scope.
func (r *schemaRepository) FindAllUsers(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT u.id, u.schema_id, u.username, u.password, u.user_type
		FROM dbh_users u
		JOIN dbh_schemas s ON s.id = u.schema_id
		WHERE s.instance_name = $1
		ORDER BY u.schema_id, u.username`

	rows, err := r.q(ctx).Query(ctx, query, r.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return r.collectUsers(rows)
}

// UpdateUser updates name and password of an existing user.
func (r *schemaRepository) UpdateUser(ctx context.Context, user *models.User) error {
	password, err := r.encryptor.Encrypt(user.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	query := `UPDATE dbh_users SET username = $2, password = $3 WHERE id = $1`

	tag, err := r.q(ctx).Exec(ctx, query, user.ID, user.Name, password)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaRepository) collectUsers(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		var userType, password string
		if err := rows.Scan(&u.ID, &u.SchemaID, &u.Name, &password, &userType); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		plain, err := r.encryptor.Decrypt(password)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w: %w", u.Name, apperrors.ErrCredentialsKeyMismatch, err)
		}
		u.Password = plain
		u.Type = models.UserType(userType)
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
