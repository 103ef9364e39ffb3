package repositories

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// ReplaceLabels swaps the full label set of a schema. Labels are never merged.
func (r *schemaRepository) ReplaceLabels(ctx context.Context, schemaID uuid.UUID, labels models.Labels) error {
	return r.InTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM dbh_labels WHERE schema_id = $1`, schemaID); err != nil {
			return fmt.Errorf("failed to clear labels: %w", err)
		}

		names := make([]string, 0, len(labels))
		for name := range labels {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			_, err := q.Exec(ctx,
				`INSERT INTO dbh_labels (schema_id, name, value) VALUES ($1, $2, $3)`,
				schemaID, name, labels[name])
			if err != nil {
				return fmt.Errorf("failed to insert label %q: %w", name, err)
			}
		}
		return nil
	})
}

// FindLabelsBySchemaID returns the labels of one schema. A schema without
// labels yields an empty, non-nil map.
func (r *schemaRepository) FindLabelsBySchemaID(ctx context.Context, schemaID uuid.UUID) (models.Labels, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT l.name, l.value FROM dbh_labels l WHERE l.schema_id = $1`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	labels := models.Labels{}
	for rows.Next() {
		var name string
		var value *string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labels: %w", err)
	}
	return labels, nil
}

// FindAllLabels returns the labels of every schema in scope keyed by schema id.
func (r *schemaRepository) FindAllLabels(ctx context.Context) (map[uuid.UUID]models.Labels, error) {
	query := `
		SELECT l.schema_id, l.name, l.value
		FROM dbh_labels l
		JOIN dbh_schemas s ON s.id = l.schema_id
		WHERE s.instance_name = $1`

	rows, err := r.q(ctx).Query(ctx, query, r.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]models.Labels)
	for rows.Next() {
		var schemaID uuid.UUID
		var name string
		var value *string
		if err := rows.Scan(&schemaID, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		if result[schemaID] == nil {
			result[schemaID] = models.Labels{}
		}
		result[schemaID][name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labels: %w", err)
	}
	return result, nil
}
