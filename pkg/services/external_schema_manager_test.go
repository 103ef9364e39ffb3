package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func TestExternalSchemaManager_RegisterSchema(t *testing.T) {
	ctx := context.Background()
	repo := newMockSchemaRepository()
	m := NewExternalSchemaManager(repo, zap.NewNop())
	rec := &recordingIntegration{}
	m.RegisterIntegration(rec)

	url := "jdbc:sqlserver://mssql.partner:1433;databaseName=APP"
	s, err := m.RegisterSchema(ctx, "app_user", "secret", url, models.LabelsOf(map[string]string{"owner": "billing"}))
	require.NoError(t, err)

	assert.Equal(t, "app_user", s.Name)
	assert.Equal(t, url, s.ConnectionURL)
	assert.Equal(t, models.SchemaTypeExternal, s.Type)
	assert.True(t, s.Active)
	require.Len(t, s.Users, 1)
	assert.Equal(t, "secret", s.Users[0].Password)

	conn, err := repo.FindExternalConnection(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "app_user", conn.Username)
	assert.Equal(t, "secret", conn.Password)

	assert.Equal(t, []string{"created:app_user"}, rec.Events())
}

func TestExternalSchemaManager_RegisterSchema_InvalidInput(t *testing.T) {
	m := NewExternalSchemaManager(newMockSchemaRepository(), zap.NewNop())

	_, err := m.RegisterSchema(context.Background(), "u", "p", "postgres://not-jdbc", nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = m.RegisterSchema(context.Background(), "", "p", "jdbc:postgresql://h:5432/db", nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExternalSchemaManager_UpdateConnectionInfo(t *testing.T) {
	ctx := context.Background()
	repo := newMockSchemaRepository()
	m := NewExternalSchemaManager(repo, zap.NewNop())
	s, err := m.RegisterSchema(ctx, "old_user", "old_pw", "jdbc:postgresql://h:5432/db", nil)
	require.NoError(t, err)

	newUser, newPassword := "new_user", "new_pw"
	updated, err := m.UpdateConnectionInfo(ctx, s.ID, &newUser, nil, &newPassword)
	require.NoError(t, err)

	assert.Equal(t, "new_user", updated.Name)
	assert.Equal(t, "jdbc:postgresql://h:5432/db", updated.ConnectionURL)
	require.Len(t, updated.Users, 1)
	assert.Equal(t, "new_user", updated.Users[0].Name)
	assert.Equal(t, "new_pw", updated.Users[0].Password)

	conn, err := repo.FindExternalConnection(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "new_user", conn.Username)
	assert.Equal(t, "new_pw", conn.Password)

	badURL := "ftp://nowhere"
	_, err = m.UpdateConnectionInfo(ctx, s.ID, nil, &badURL, nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = m.UpdateConnectionInfo(ctx, uuid.New(), &newUser, nil, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExternalSchemaManager_FindAllAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newMockSchemaRepository()
	m := NewExternalSchemaManager(repo, zap.NewNop())

	a, err := m.RegisterSchema(ctx, "shared", "p1", "jdbc:postgresql://one:5432/db", nil)
	require.NoError(t, err)
	b, err := m.RegisterSchema(ctx, "shared", "p2", "jdbc:postgresql://two:5432/db", nil)
	require.NoError(t, err)

	all, err := m.FindAllSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	urls := map[string]string{}
	for _, s := range all {
		urls[s.ID.String()] = s.ConnectionURL
	}
	assert.Equal(t, "jdbc:postgresql://one:5432/db", urls[a.ID.String()])
	assert.Equal(t, "jdbc:postgresql://two:5432/db", urls[b.ID.String()])

	require.NoError(t, m.DeleteSchema(ctx, a.ID))
	_, err = m.FindSchemaByID(ctx, a.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = repo.FindExternalConnection(ctx, a.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	err = m.DeleteSchema(ctx, a.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
