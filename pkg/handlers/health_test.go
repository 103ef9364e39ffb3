package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(&config.Config{Version: "test-version", Env: "test"}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthHandler_Ping(t *testing.T) {
	svc := newMockHotelService()
	svc.instances = []models.InstanceInfo{
		{InstanceName: "pg1", Engine: models.EnginePostgres},
		{InstanceName: "pg2", Engine: models.EnginePostgres},
		{InstanceName: "ora1", Engine: models.EngineOracle},
	}
	cfg := &config.Config{Version: "1.2.3", Env: "test", Instances: make([]config.InstanceConfig, 3)}
	handler := NewHealthHandler(cfg, svc, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "dbhotel", resp.Service)
	assert.Equal(t, "test", resp.Environment)
	assert.Equal(t, 3, resp.Instances)
	assert.Equal(t, 3, resp.Configured)
	assert.Equal(t, map[string]int{"POSTGRES": 2, "ORACLE": 1}, resp.Engines)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestHealthHandler_Ping_StartingUntilAllRegistered(t *testing.T) {
	svc := newMockHotelService()
	svc.instances = []models.InstanceInfo{{InstanceName: "pg1", Engine: models.EnginePostgres}}
	cfg := &config.Config{Version: "1.2.3", Instances: make([]config.InstanceConfig, 2)}
	handler := NewHealthHandler(cfg, svc, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "starting", resp.Status)
	assert.Equal(t, 1, resp.Instances)
	assert.Equal(t, 2, resp.Configured)
}
