package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/auth"
	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	"github.com/ekaya-inc/dbhotel/pkg/services"
)

// InstanceService is the part of services.HotelService the admin API uses.
type InstanceService interface {
	FindAllInstances(engine *models.Engine) []models.InstanceInfo
	DeleteUnusedSchemas(ctx context.Context, host string) (*services.SweepResult, error)
}

// InstancesHandler serves /api/v1/admin/databaseInstance.
type InstancesHandler struct {
	service InstanceService
	logger  *zap.Logger
}

// NewInstancesHandler creates an instances handler.
func NewInstancesHandler(service InstanceService, logger *zap.Logger) *InstancesHandler {
	return &InstancesHandler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *InstancesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/v1/admin/databaseInstance", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/v1/admin/databaseInstance/{host}/deleteUnused", authMiddleware.RequireAuth(h.DeleteUnused))
}

// List handles GET /api/v1/admin/databaseInstance
func (h *InstancesHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.service.FindAllInstances(nil)
	resources := make([]DatabaseInstanceResource, len(infos))
	for i, info := range infos {
		resources[i] = toInstanceResource(info)
	}
	writeOK(w, h.logger, http.StatusOK, listResponse(resources))
}

// DeleteUnused handles POST /api/v1/admin/databaseInstance/{host}/deleteUnused
// Moves every stale schema on the instance into cooldown.
func (h *InstancesHandler) DeleteUnused(w http.ResponseWriter, r *http.Request) {
	host := r.PathValue("host")

	result, err := h.service.DeleteUnusedSchemas(r.Context(), host)
	if err != nil {
		writeServiceError(w, h.logger, "delete_unused", err)
		return
	}

	failed := make(map[string]string, len(result.Failed))
	for name, err := range result.Failed {
		failed[name] = logging.SanitizeError(err)
	}
	succeeded := result.Succeeded
	if succeeded == nil {
		succeeded = []string{}
	}

	h.logger.Info("Unused schemas deleted on demand",
		zap.String("host", host),
		zap.Int("succeeded", len(succeeded)),
		zap.Int("failed", len(failed)),
		zap.String("client_ip", auth.GetClientIPFromContext(r.Context())))

	writeOK(w, h.logger, http.StatusOK, okResponse(SweepResultResource{
		Host:      host,
		Succeeded: succeeded,
		Failed:    failed,
	}))
}
