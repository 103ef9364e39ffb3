package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/audit"
	"github.com/ekaya-inc/dbhotel/pkg/auth"
	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/services"
)

// mockHotelService is a configurable stand-in for services.HotelService.
// It records the arguments of the last call it received.
type mockHotelService struct {
	schemas   map[uuid.UUID]*models.DatabaseSchema
	stale     []*models.DatabaseSchema
	instances []models.InstanceInfo
	sweep     *services.SweepResult
	valid     bool
	err       error

	lastEngine   *models.Engine
	lastLabels   models.Labels
	lastReq      models.InstanceRequirements
	lastCooldown *time.Duration
	lastConn     *models.ConnectionOverrides
	lastExternal []string
	lastHost     string
	restored     []uuid.UUID
}

func newMockHotelService(schemas ...*models.DatabaseSchema) *mockHotelService {
	m := &mockHotelService{schemas: map[uuid.UUID]*models.DatabaseSchema{}}
	for _, s := range schemas {
		m.schemas[s.ID] = s
	}
	return m
}

func (m *mockHotelService) FindSchemaByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.DatabaseSchema, *services.DatabaseInstance, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	s, ok := m.schemas[id]
	if !ok || (activeOnly && !s.Active) {
		return nil, nil, fmt.Errorf("schema %s: %w", id, apperrors.ErrNotFound)
	}
	return s, nil, nil
}

func (m *mockHotelService) FindAllSchemas(ctx context.Context, engine *models.Engine, labels models.Labels) ([]*models.DatabaseSchema, error) {
	m.lastEngine, m.lastLabels = engine, labels
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.DatabaseSchema
	for _, s := range m.schemas {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockHotelService) FindAllStaleSchemas(ctx context.Context) ([]*models.DatabaseSchema, error) {
	return m.stale, m.err
}

func (m *mockHotelService) FindAllInactiveSchemas(ctx context.Context, labels models.Labels) ([]*models.DatabaseSchema, error) {
	m.lastLabels = labels
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.DatabaseSchema
	for _, s := range m.schemas {
		if !s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockHotelService) CreateSchema(ctx context.Context, req models.InstanceRequirements, labels models.Labels) (*models.DatabaseSchema, error) {
	m.lastReq, m.lastLabels = req, labels
	if m.err != nil {
		return nil, m.err
	}
	s := testSchema("NEWSCHEMA", true)
	s.Labels = labels
	m.schemas[s.ID] = s
	return s, nil
}

func (m *mockHotelService) RegisterExternalSchema(ctx context.Context, username, password, url string, labels models.Labels) (*models.DatabaseSchema, error) {
	m.lastExternal = []string{username, password, url}
	m.lastLabels = labels
	if m.err != nil {
		return nil, m.err
	}
	s := &models.DatabaseSchema{
		ID:            uuid.New(),
		Active:        true,
		Name:          username,
		ConnectionURL: url,
		Type:          models.SchemaTypeExternal,
		Labels:        labels,
		Users:         []*models.User{{Name: username, Password: password, Type: models.UserTypeSchema}},
	}
	m.schemas[s.ID] = s
	return s, nil
}

func (m *mockHotelService) DeleteSchemaByID(ctx context.Context, id uuid.UUID, cooldown *time.Duration) error {
	m.lastCooldown = cooldown
	if m.err != nil {
		return m.err
	}
	s, ok := m.schemas[id]
	if !ok || !s.Active {
		return apperrors.ErrNotFound
	}
	s.Active = false
	return nil
}

func (m *mockHotelService) UpdateSchema(ctx context.Context, id uuid.UUID, labels models.Labels, conn *models.ConnectionOverrides) (*models.DatabaseSchema, error) {
	m.lastLabels, m.lastConn = labels, conn
	s, _, err := m.FindSchemaByID(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if labels != nil {
		s.Labels = labels
	}
	return s, nil
}

func (m *mockHotelService) RestoreSchemaByID(ctx context.Context, id uuid.UUID) (*models.DatabaseSchema, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.schemas[id]
	if !ok || s.Active {
		return nil, apperrors.ErrNotFound
	}
	s.Active = true
	m.restored = append(m.restored, id)
	return s, nil
}

func (m *mockHotelService) ValidateConnection(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, _, err := m.FindSchemaByID(ctx, id, true); err != nil {
		return false, err
	}
	return m.valid, nil
}

func (m *mockHotelService) ValidateConnectionWith(ctx context.Context, url, username, password string) (bool, error) {
	m.lastExternal = []string{username, password, url}
	if !strings.HasPrefix(url, "jdbc:") {
		return false, fmt.Errorf("%w: bad url", apperrors.ErrInvalidInput)
	}
	return m.valid, m.err
}

func (m *mockHotelService) FindAllInstances(engine *models.Engine) []models.InstanceInfo {
	return m.instances
}

func (m *mockHotelService) DeleteUnusedSchemas(ctx context.Context, host string) (*services.SweepResult, error) {
	m.lastHost = host
	if m.err != nil {
		return nil, m.err
	}
	return m.sweep, nil
}

func testSchema(name string, active bool) *models.DatabaseSchema {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &models.DatabaseSchema{
		ID:            uuid.New(),
		Active:        active,
		Name:          name,
		ConnectionURL: "jdbc:postgresql://pg1.internal:5432/" + strings.ToLower(name),
		CreatedDate:   created,
		SizeMb:        12.5,
		Type:          models.SchemaTypeManaged,
		Instance: &models.InstanceInfo{
			Engine:              models.EnginePostgres,
			InstanceName:        "pg1",
			Host:                "pg1.internal",
			Port:                5432,
			CreateSchemaAllowed: true,
		},
		Users:  []*models.User{{Name: name, Password: "a1secret", Type: models.UserTypeSchema}},
		Labels: models.Labels{},
	}
}

const testSecret = "s3cret"

// newTestServer wires every API handler onto one mux behind auth, the way
// main does.
func newTestServer(t *testing.T, svc *mockHotelService, hotel config.HotelConfig) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	authMiddleware := auth.NewMiddleware(testSecret, false, logger)
	auditor := audit.NewSecurityAuditor(logger)

	mux := http.NewServeMux()
	NewHealthHandler(&config.Config{Version: "test", Env: "test"}, svc, logger).RegisterRoutes(mux)
	NewSchemaHandler(svc, auditor, hotel, logger).RegisterRoutes(mux, authMiddleware)
	NewRestorableSchemaHandler(svc, logger).RegisterRoutes(mux, authMiddleware)
	NewInstancesHandler(svc, logger).RegisterRoutes(mux, authMiddleware)
	return mux
}

func doRequest(handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "aurora-token "+testSecret)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
