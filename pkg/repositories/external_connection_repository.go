package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// CreateExternalConnection stores the connection details of an external schema.
func (r *schemaRepository) CreateExternalConnection(ctx context.Context, conn *models.ExternalConnection) error {
	password, err := r.encryptor.Encrypt(conn.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	query := `
		INSERT INTO dbh_external_connections (schema_id, url, username, password)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.q(ctx).Exec(ctx, query, conn.SchemaID, conn.URL, conn.Username, password); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("external connection for schema %s: %w", conn.SchemaID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create external connection: %w", err)
	}
	return nil
}

// FindExternalConnection returns the connection record of one external schema.
func (r *schemaRepository) FindExternalConnection(ctx context.Context, schemaID uuid.UUID) (*models.ExternalConnection, error) {
	query := `SELECT c.schema_id, c.url, c.username, c.password FROM dbh_external_connections c WHERE c.schema_id = $1`

	var conn models.ExternalConnection
	var password string
	err := r.q(ctx).QueryRow(ctx, query, schemaID).Scan(&conn.SchemaID, &conn.URL, &conn.Username, &password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find external connection: %w", err)
	}

	if conn.Password, err = r.encryptor.Decrypt(password); err != nil {
		return nil, fmt.Errorf("external connection %s: %w: %w", schemaID, apperrors.ErrCredentialsKeyMismatch, err)
	}
	return &conn, nil
}

// FindAllExternalConnections returns every connection record in scope keyed by schema id.
func (r *schemaRepository) FindAllExternalConnections(ctx context.Context) (map[uuid.UUID]*models.ExternalConnection, error) {
	query := `
		SELECT c.schema_id, c.url, c.username, c.password
		FROM dbh_external_connections c
		JOIN dbh_schemas s ON s.id = c.schema_id
		WHERE s.instance_name = $1`

	rows, err := r.q(ctx).Query(ctx, query, r.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query external connections: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]*models.ExternalConnection)
	for rows.Next() {
		var conn models.ExternalConnection
		var password string
		if err := rows.Scan(&conn.SchemaID, &conn.URL, &conn.Username, &password); err != nil {
			return nil, fmt.Errorf("failed to scan external connection: %w", err)
		}
		if conn.Password, err = r.encryptor.Decrypt(password); err != nil {
			return nil, fmt.Errorf("external connection %s: %w: %w", conn.SchemaID, apperrors.ErrCredentialsKeyMismatch, err)
		}
		result[conn.SchemaID] = &conn
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external connections: %w", err)
	}
	return result, nil
}

// UpdateExternalConnection overwrites url, username and password of a record.
func (r *schemaRepository) UpdateExternalConnection(ctx context.Context, conn *models.ExternalConnection) error {
	password, err := r.encryptor.Encrypt(conn.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	query := `UPDATE dbh_external_connections SET url = $2, username = $3, password = $4 WHERE schema_id = $1`

	tag, err := r.q(ctx).Exec(ctx, query, conn.SchemaID, conn.URL, conn.Username, password)
	if err != nil {
		return fmt.Errorf("failed to update external connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
