//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/crypto"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/testhelpers"
)

// newIntegrationRepo returns a repository with its own scope so tests don't
// see each other's rows.
func newIntegrationRepo(t *testing.T, encryptor *crypto.CredentialEncryptor) SchemaRepository {
	t.Helper()
	hotelDB := testhelpers.GetHotelDB(t)
	return NewSchemaRepository(hotelDB.DB, "it-"+uuid.NewString()[:8], encryptor)
}

func TestSchemaRepository_Integration_Lifecycle(t *testing.T) {
	repo := newIntegrationRepo(t, nil)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Microsecond)

	sd, err := repo.CreateSchemaData(ctx, "ALPHA", models.SchemaTypeManaged, created)
	require.NoError(t, err)

	_, err = repo.CreateSchemaData(ctx, "ALPHA", models.SchemaTypeManaged, created)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, repo.CreateUser(ctx, &models.User{
		ID: uuid.New(), SchemaID: sd.ID, Name: "ALPHA", Password: "a1secret", Type: models.UserTypeSchema,
	}))

	users, err := repo.FindUsersBySchemaID(ctx, sd.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a1secret", users[0].Password)

	cooldownAt := created.Add(time.Hour)
	deleteAfter := cooldownAt.Add(24 * time.Hour)
	require.NoError(t, repo.DeactivateSchemaData(ctx, sd.ID, cooldownAt, deleteAfter))

	_, err = repo.FindSchemaDataByID(ctx, sd.ID, true)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	inactive, err := repo.FindSchemaDataByID(ctx, sd.ID, false)
	require.NoError(t, err)
	assert.False(t, inactive.Active)
	require.NotNil(t, inactive.DeleteAfter)
	assert.True(t, deleteAfter.Equal(*inactive.DeleteAfter))

	expired, err := repo.FindSchemaDataDeleteAfterBefore(ctx, deleteAfter.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, sd.ID, expired[0].ID)

	require.NoError(t, repo.ReactivateSchemaData(ctx, sd.ID))
	active, err := repo.FindSchemaDataByID(ctx, sd.ID, true)
	require.NoError(t, err)
	assert.Nil(t, active.DeleteAfter)

	require.NoError(t, repo.DeleteSchemaData(ctx, sd.ID))
	_, err = repo.FindSchemaDataByID(ctx, sd.ID, false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSchemaRepository_Integration_LabelFilter(t *testing.T) {
	repo := newIntegrationRepo(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	team, err := repo.CreateSchemaData(ctx, "TEAM", models.SchemaTypeManaged, now)
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceLabels(ctx, team.ID, models.Labels{
		"team": models.StringPtr("payments"),
		"ci":   nil,
	}))

	bare, err := repo.CreateSchemaData(ctx, "BARE", models.SchemaTypeManaged, now)
	require.NoError(t, err)

	tests := []struct {
		name   string
		labels models.Labels
		want   []uuid.UUID
	}{
		{"no filter", nil, []uuid.UUID{team.ID, bare.ID}},
		{"value match", models.Labels{"team": models.StringPtr("payments")}, []uuid.UUID{team.ID}},
		{"value mismatch", models.Labels{"team": models.StringPtr("search")}, nil},
		{"valueless label matches absent", models.Labels{"ci": nil}, []uuid.UUID{team.ID, bare.ID}},
		{"valueless filter rejects valued label", models.Labels{"team": nil}, []uuid.UUID{bare.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := repo.FindSchemaData(ctx, SchemaDataFilter{Type: models.SchemaTypeManaged, Labels: tt.labels})
			require.NoError(t, err)

			var got []uuid.UUID
			for _, r := range rows {
				got = append(got, r.ID)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	labels, err := repo.FindLabelsBySchemaID(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments", labels.Value("team"))
	assert.Contains(t, labels, "ci")
	assert.Nil(t, labels["ci"])
}

func TestSchemaRepository_Integration_ExternalConnectionEncrypted(t *testing.T) {
	encryptor, err := crypto.NewCredentialEncryptor("integration-test-passphrase")
	require.NoError(t, err)

	hotelDB := testhelpers.GetHotelDB(t)
	repo := NewSchemaRepository(hotelDB.DB, ExternalScope, encryptor)
	ctx := context.Background()

	sd, err := repo.CreateSchemaData(ctx, "reporting", models.SchemaTypeExternal, time.Now().UTC())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.DeleteSchemaData(context.Background(), sd.ID) })

	require.NoError(t, repo.CreateExternalConnection(ctx, &models.ExternalConnection{
		SchemaID: sd.ID,
		URL:      "jdbc:postgresql://reports.internal:5432/reporting",
		Username: "reporting",
		Password: "plain-password",
	}))

	var stored string
	err = hotelDB.DB.Pool.QueryRow(ctx,
		`SELECT password FROM dbh_external_connections WHERE schema_id = $1`, sd.ID).Scan(&stored)
	require.NoError(t, err)
	assert.NotEqual(t, "plain-password", stored)

	conn, err := repo.FindExternalConnection(ctx, sd.ID)
	require.NoError(t, err)
	assert.Equal(t, "plain-password", conn.Password)
}
