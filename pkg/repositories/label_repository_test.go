package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func TestSchemaRepository_ReplaceLabels(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()
	labels := models.Labels{
		"team":  models.StringPtr("x"),
		"adhoc": nil,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM dbh_labels`).WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`INSERT INTO dbh_labels`).WithArgs(id, "adhoc", (*string)(nil)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO dbh_labels`).WithArgs(id, "team", labels["team"]).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceLabels(context.Background(), id, labels))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaRepository_ReplaceLabels_JoinsOuterTransaction(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM dbh_labels`).WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(ctx context.Context) error {
		return repo.ReplaceLabels(ctx, id, models.Labels{})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaRepository_FindLabelsBySchemaID(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()

	mock.ExpectQuery(`SELECT l.name, l.value FROM dbh_labels l WHERE l.schema_id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}).
			AddRow("team", models.StringPtr("x")).
			AddRow("adhoc", (*string)(nil)))

	labels, err := repo.FindLabelsBySchemaID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "x", labels.Value("team"))
	v, ok := labels["adhoc"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestSchemaRepository_FindLabelsBySchemaID_Empty(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	id := uuid.New()

	mock.ExpectQuery(`FROM dbh_labels l`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"name", "value"}))

	labels, err := repo.FindLabelsBySchemaID(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, labels)
	assert.Empty(t, labels)
}

func TestSchemaRepository_FindAllLabels(t *testing.T) {
	repo, mock := newMockRepo(t, nil)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(`JOIN dbh_schemas s ON s.id = l.schema_id`).
		WithArgs(testScope).
		WillReturnRows(pgxmock.NewRows([]string{"schema_id", "name", "value"}).
			AddRow(a, "team", models.StringPtr("x")).
			AddRow(a, "env", models.StringPtr("ci")).
			AddRow(b, "team", models.StringPtr("y")))

	all, err := repo.FindAllLabels(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ci", all[a].Value("env"))
	assert.Equal(t, "y", all[b].Value("team"))
}
