package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/audit"
	"github.com/ekaya-inc/dbhotel/pkg/auth"
	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/services"
)

// SchemaService is the part of services.HotelService the schema API uses.
type SchemaService interface {
	FindSchemaByID(ctx context.Context, id uuid.UUID, activeOnly bool) (*models.DatabaseSchema, *services.DatabaseInstance, error)
	FindAllSchemas(ctx context.Context, engine *models.Engine, labels models.Labels) ([]*models.DatabaseSchema, error)
	FindAllStaleSchemas(ctx context.Context) ([]*models.DatabaseSchema, error)
	CreateSchema(ctx context.Context, req models.InstanceRequirements, labels models.Labels) (*models.DatabaseSchema, error)
	RegisterExternalSchema(ctx context.Context, username, password, url string, labels models.Labels) (*models.DatabaseSchema, error)
	DeleteSchemaByID(ctx context.Context, id uuid.UUID, cooldown *time.Duration) error
	UpdateSchema(ctx context.Context, id uuid.UUID, labels models.Labels, conn *models.ConnectionOverrides) (*models.DatabaseSchema, error)
	ValidateConnection(ctx context.Context, id uuid.UUID) (bool, error)
	ValidateConnectionWith(ctx context.Context, url, username, password string) (bool, error)
}

// JdbcSchema carries the connection of an external schema.
type JdbcSchema struct {
	Username string `json:"username"`
	Password string `json:"password"`
	JdbcURL  string `json:"jdbcUrl"`
}

func (s *JdbcSchema) isValid() bool {
	return s.Username != "" && s.Password != "" && s.JdbcURL != ""
}

// SchemaCreationRequest is the body of POST and PUT on /api/v1/schema.
// With Schema set the request registers or updates an external schema.
type SchemaCreationRequest struct {
	Engine           string            `json:"engine"`
	InstanceName     string            `json:"instanceName"`
	InstanceLabels   map[string]string `json:"instanceLabels"`
	InstanceFallback *bool             `json:"instanceFallback"`
	Labels           models.Labels     `json:"labels"`
	Schema           *JdbcSchema       `json:"schema"`
}

// requirements defaults the engine to Oracle. Fallback to unlabelled
// instances defaults to on for Oracle only.
func (r *SchemaCreationRequest) requirements() (models.InstanceRequirements, error) {
	engine := models.EngineOracle
	if r.Engine != "" {
		parsed, err := models.ParseEngine(r.Engine)
		if err != nil {
			return models.InstanceRequirements{}, err
		}
		engine = parsed
	}

	fallback := engine == models.EngineOracle
	if r.InstanceFallback != nil {
		fallback = *r.InstanceFallback
	}

	return models.InstanceRequirements{
		Engine:           engine,
		InstanceName:     r.InstanceName,
		InstanceLabels:   r.InstanceLabels,
		InstanceFallback: fallback,
	}, nil
}

// ConnectionVerificationRequest is the body of PUT /api/v1/schema/validate.
// Either ID or JdbcUser must be set.
type ConnectionVerificationRequest struct {
	ID       *string         `json:"id"`
	JdbcUser *JdbcConnection `json:"jdbcUser"`
}

// JdbcConnection is an explicit set of credentials to test.
type JdbcConnection struct {
	JdbcURL  string `json:"jdbcUrl"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SchemaHandler serves /api/v1/schema.
type SchemaHandler struct {
	service         SchemaService
	auditor         *audit.SecurityAuditor
	listingDisabled bool
	dropAllowed     bool
	logger          *zap.Logger
}

// NewSchemaHandler creates a schema handler.
func NewSchemaHandler(service SchemaService, auditor *audit.SecurityAuditor, cfg config.HotelConfig, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{
		service:         service,
		auditor:         auditor,
		listingDisabled: cfg.DisableSchemaListing,
		dropAllowed:     cfg.DropAllowed,
		logger:          logger,
	}
}

// RegisterRoutes registers the schema handler's routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/v1/schema", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/v1/schema", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("PUT /api/v1/schema/validate", authMiddleware.RequireAuth(h.Validate))
	mux.HandleFunc("GET /api/v1/schema/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/v1/schema/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/v1/schema/{id}", authMiddleware.RequireAuth(h.Delete))
}

// List handles GET /api/v1/schema
// Query parameters: engine, labels ("a=b,c") and q=stale.
func (h *SchemaHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.listingDisabled {
		h.error(w, http.StatusForbidden, "operation_disabled", "Schema listing has been disabled for this instance")
		return
	}

	query := r.URL.Query()
	var engine *models.Engine
	if raw := query.Get("engine"); raw != "" {
		parsed, err := models.ParseEngine(raw)
		if err != nil {
			h.error(w, http.StatusBadRequest, "invalid_engine", err.Error())
			return
		}
		engine = &parsed
	}

	var (
		schemas []*models.DatabaseSchema
		err     error
	)
	if query.Get("q") == "stale" {
		schemas, err = h.service.FindAllStaleSchemas(r.Context())
	} else {
		schemas, err = h.service.FindAllSchemas(r.Context(), engine, ParseLabelsParam(query.Get("labels")))
	}
	if err != nil {
		writeServiceError(w, h.logger, "list_schemas", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, listResponse(toSchemaResources(schemas)))
}

// Get handles GET /api/v1/schema/{id}
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSchemaID(w, r, h.logger)
	if !ok {
		return
	}

	schema, _, err := h.service.FindSchemaByID(r.Context(), id, true)
	if err != nil {
		writeServiceError(w, h.logger, "get_schema", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, okResponse(toSchemaResource(schema)))
}

// Create handles POST /api/v1/schema
// Creates a managed schema, or registers an external one when the body
// carries a schema connection.
func (h *SchemaHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SchemaCreationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	labels := req.Labels
	if labels == nil {
		labels = models.Labels{}
	}
	if !h.auditor.CheckLabels(r.Context(), "create_schema", labels) {
		h.error(w, http.StatusBadRequest, "invalid_labels", "Labels contain disallowed content")
		return
	}

	var (
		schema *models.DatabaseSchema
		err    error
	)
	switch {
	case req.Schema == nil:
		requirements, reqErr := req.requirements()
		if reqErr != nil {
			h.error(w, http.StatusBadRequest, "invalid_engine", reqErr.Error())
			return
		}
		schema, err = h.service.CreateSchema(r.Context(), requirements, labels)
	case req.Schema.isValid():
		schema, err = h.service.RegisterExternalSchema(r.Context(), req.Schema.Username, req.Schema.Password, req.Schema.JdbcURL, labels)
	default:
		h.error(w, http.StatusBadRequest, "missing_jdbc_input", "Missing JDBC input")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, "create_schema", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, okResponse(toSchemaResource(schema)))
}

// Update handles PUT /api/v1/schema/{id}
// Labels are replaced when present in the body. Connection details can only
// change for external schemas.
func (h *SchemaHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSchemaID(w, r, h.logger)
	if !ok {
		return
	}

	var req SchemaCreationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Labels != nil && !h.auditor.CheckLabels(r.Context(), "update_schema", req.Labels) {
		h.error(w, http.StatusBadRequest, "invalid_labels", "Labels contain disallowed content")
		return
	}

	var conn *models.ConnectionOverrides
	if req.Schema != nil {
		if !req.Schema.isValid() {
			h.error(w, http.StatusBadRequest, "missing_jdbc_input", "Missing JDBC input")
			return
		}
		conn = &models.ConnectionOverrides{
			Username: &req.Schema.Username,
			URL:      &req.Schema.JdbcURL,
			Password: &req.Schema.Password,
		}
	}

	schema, err := h.service.UpdateSchema(r.Context(), id, req.Labels, conn)
	if err != nil {
		writeServiceError(w, h.logger, "update_schema", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, okResponse(toSchemaResource(schema)))
}

// Delete handles DELETE /api/v1/schema/{id}
// The cooldown-duration-seconds header overrides the default cooldown.
func (h *SchemaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.dropAllowed {
		h.error(w, http.StatusForbidden, "operation_disabled", "Schema deletion has been disabled for this instance")
		return
	}

	id, ok := ParseSchemaID(w, r, h.logger)
	if !ok {
		return
	}

	cooldown, err := parseCooldownHeader(r)
	if err != nil {
		h.error(w, http.StatusBadRequest, "invalid_cooldown", err.Error())
		return
	}

	if err := h.service.DeleteSchemaByID(r.Context(), id, cooldown); err != nil {
		writeServiceError(w, h.logger, "delete_schema", err)
		return
	}

	h.logger.Info("Schema deleted",
		zap.String("schema_id", id.String()),
		zap.String("client_ip", auth.GetClientIPFromContext(r.Context())))
	writeOK(w, h.logger, http.StatusOK, okResponse())
}

// Validate handles PUT /api/v1/schema/validate
// Returns a single boolean item telling whether a connection succeeded.
func (h *SchemaHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ConnectionVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	var (
		success bool
		err     error
	)
	switch {
	case req.ID != nil:
		id, parseErr := uuid.Parse(*req.ID)
		if parseErr != nil {
			h.error(w, http.StatusBadRequest, "invalid_schema_id", "Invalid schema ID format")
			return
		}
		success, err = h.service.ValidateConnection(r.Context(), id)
	case req.JdbcUser != nil:
		success, err = h.service.ValidateConnectionWith(r.Context(), req.JdbcUser.JdbcURL, req.JdbcUser.Username, req.JdbcUser.Password)
	default:
		h.error(w, http.StatusBadRequest, "invalid_request", "id or jdbcUser is required")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, "validate_connection", err)
		return
	}

	writeOK(w, h.logger, http.StatusOK, okResponse(success))
}

func (h *SchemaHandler) error(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
