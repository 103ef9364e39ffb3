package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/auth"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// RestorableSchemaService is the part of services.HotelService the
// restorable schema API uses.
type RestorableSchemaService interface {
	FindAllInactiveSchemas(ctx context.Context, labels models.Labels) ([]*models.DatabaseSchema, error)
	RestoreSchemaByID(ctx context.Context, id uuid.UUID) (*models.DatabaseSchema, error)
}

// RestoreSchemaPayload is the body of PATCH /api/v1/restorableSchema/{id}.
// Only active=true does anything.
type RestoreSchemaPayload struct {
	Active *bool `json:"active"`
}

// RestorableSchemaHandler serves schemas that are in cooldown.
type RestorableSchemaHandler struct {
	service RestorableSchemaService
	logger  *zap.Logger
}

// NewRestorableSchemaHandler creates a restorable schema handler.
func NewRestorableSchemaHandler(service RestorableSchemaService, logger *zap.Logger) *RestorableSchemaHandler {
	return &RestorableSchemaHandler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *RestorableSchemaHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/v1/restorableSchema", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("PATCH /api/v1/restorableSchema/{id}", authMiddleware.RequireAuth(h.Update))
}

// List handles GET /api/v1/restorableSchema
func (h *RestorableSchemaHandler) List(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.service.FindAllInactiveSchemas(r.Context(), ParseLabelsParam(r.URL.Query().Get("labels")))
	if err != nil {
		writeServiceError(w, h.logger, "list_restorable_schemas", err)
		return
	}

	resources := make([]RestorableDatabaseSchemaResource, 0, len(schemas))
	for _, s := range sortByLastUse(schemas) {
		if s.SetToCooldownAt == nil || s.DeleteAfter == nil {
			h.logger.Warn("Schema in cooldown without cooldown dates",
				zap.String("schema_id", s.ID.String()))
			continue
		}
		resources = append(resources, RestorableDatabaseSchemaResource{
			SetToCooldownAt: *s.SetToCooldownAt,
			DeleteAfter:     *s.DeleteAfter,
			DatabaseSchema:  toSchemaResource(s),
		})
	}

	writeOK(w, h.logger, http.StatusOK, listResponse(resources))
}

// Update handles PATCH /api/v1/restorableSchema/{id}
// Setting active to true brings the schema back from cooldown.
func (h *RestorableSchemaHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseSchemaID(w, r, h.logger)
	if !ok {
		return
	}

	var payload RestoreSchemaPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if payload.Active == nil || !*payload.Active {
		writeOK(w, h.logger, http.StatusOK, okResponse())
		return
	}

	schema, err := h.service.RestoreSchemaByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "restore_schema", err)
		return
	}

	h.logger.Info("Schema restored",
		zap.String("schema_id", id.String()),
		zap.String("client_ip", auth.GetClientIPFromContext(r.Context())))
	writeOK(w, h.logger, http.StatusOK, okResponse(toSchemaResource(schema)))
}
