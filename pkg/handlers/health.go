package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// PingResponse contains service status, version and fleet registration state.
// Status is "starting" until every configured instance has registered.
type PingResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Service     string         `json:"service"`
	GoVersion   string         `json:"go_version"`
	Hostname    string         `json:"hostname"`
	Environment string         `json:"environment"`
	Instances   int            `json:"instances"`
	Configured  int            `json:"configured_instances"`
	Engines     map[string]int `json:"engines"`
}

// InstanceCounter reports how many database instances are registered.
type InstanceCounter interface {
	FindAllInstances(engine *models.Engine) []models.InstanceInfo
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg       *config.Config
	instances InstanceCounter
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, instances InstanceCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, instances: instances, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// The process is healthy as soon as it serves HTTP; instances may still be
// registering in the background.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "dbhotel",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Configured:  len(h.cfg.Instances),
		Engines:     map[string]int{},
	}
	if h.instances != nil {
		infos := h.instances.FindAllInstances(nil)
		response.Instances = len(infos)
		for _, info := range infos {
			response.Engines[string(info.Engine)]++
		}
	}
	if response.Instances < response.Configured {
		response.Status = "starting"
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
