package services

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/apperrors"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// AdminService is the registry of database instances. It is the only place
// instances are looked up and chosen for new schemas.
type AdminService struct {
	mu        sync.RWMutex
	instances map[string]*DatabaseInstance // keyed by lower-cased host
	external  *ExternalSchemaManager

	defaultName string

	rndMu sync.Mutex
	rnd   *rand.Rand

	logger *zap.Logger
}

// AdminOption configures an AdminService.
type AdminOption func(*AdminService)

// WithRand sets the random source used to spread schemas over instances.
func WithRand(r *rand.Rand) AdminOption {
	return func(a *AdminService) {
		a.rnd = r
	}
}

// WithDefaultInstanceName names the instance FindDefaultInstance returns when
// more than one is registered.
func WithDefaultInstanceName(name string) AdminOption {
	return func(a *AdminService) {
		a.defaultName = name
	}
}

// NewAdminService creates an empty registry.
func NewAdminService(logger *zap.Logger, opts ...AdminOption) *AdminService {
	a := &AdminService{
		instances: make(map[string]*DatabaseInstance),
		logger:    logger.Named("admin"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rnd == nil {
		a.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return a
}

// RegisterInstance adds an instance, replacing any instance on the same host.
func (a *AdminService) RegisterInstance(inst *DatabaseInstance) {
	info := inst.Info()
	key := strings.ToLower(info.Host)

	a.mu.Lock()
	previous := a.instances[key]
	a.instances[key] = inst
	a.mu.Unlock()

	if previous != nil && previous != inst {
		if err := previous.Close(); err != nil {
			a.logger.Warn("Failed to close replaced instance", zap.String("host", info.Host), zap.Error(err))
		}
	}
	a.logger.Info("Database instance registered",
		zap.String("instance", info.InstanceName),
		zap.String("engine", string(info.Engine)),
		zap.String("host", info.Host))
}

// FindAllInstances lists registered instances ordered by name, optionally
// restricted to one engine.
func (a *AdminService) FindAllInstances(engine *models.Engine) []*DatabaseInstance {
	a.mu.RLock()
	out := make([]*DatabaseInstance, 0, len(a.instances))
	for _, inst := range a.instances {
		if engine == nil || inst.Info().Engine == *engine {
			out = append(out, inst)
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Info().InstanceName < out[j].Info().InstanceName
	})
	return out
}

// FindInstanceByName returns the instance or apperrors.ErrNotFound.
func (a *AdminService) FindInstanceByName(name string) (*DatabaseInstance, error) {
	for _, inst := range a.FindAllInstances(nil) {
		if inst.Info().InstanceName == name {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("database instance %q: %w", name, apperrors.ErrNotFound)
}

// FindInstanceByHost returns the instance or apperrors.ErrNotFound.
func (a *AdminService) FindInstanceByHost(host string) (*DatabaseInstance, error) {
	a.mu.RLock()
	inst, ok := a.instances[strings.ToLower(host)]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database instance on host %q: %w", host, apperrors.ErrNotFound)
	}
	return inst, nil
}

// SelectInstance chooses where a new schema goes. Instances whose whole label
// set is contained in the requested labels are preferred; unlabelled
// instances are used only when req.InstanceFallback is set. Within a pool
// the choice is uniformly random.
func (a *AdminService) SelectInstance(req models.InstanceRequirements) (*DatabaseInstance, error) {
	var eligible []*DatabaseInstance
	for _, inst := range a.FindAllInstances(&req.Engine) {
		if inst.Info().CreateSchemaAllowed {
			eligible = append(eligible, inst)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("engine %s: %w", req.Engine, apperrors.ErrNoEligibleInstance)
	}

	if req.InstanceName != "" {
		for _, inst := range eligible {
			if inst.Info().InstanceName == req.InstanceName {
				return inst, nil
			}
		}
		return nil, fmt.Errorf("instance %q: %w", req.InstanceName, apperrors.ErrNoEligibleInstance)
	}

	var labelled, open []*DatabaseInstance
	for _, inst := range eligible {
		labels := inst.Info().Labels
		switch {
		case len(labels) == 0:
			open = append(open, inst)
		case containsAll(req.InstanceLabels, labels):
			labelled = append(labelled, inst)
		}
	}

	switch {
	case len(labelled) > 0:
		return a.pick(labelled), nil
	case req.InstanceFallback && len(open) > 0:
		return a.pick(open), nil
	default:
		return nil, fmt.Errorf("engine %s with labels %v: %w", req.Engine, req.InstanceLabels, apperrors.ErrNoEligibleInstance)
	}
}

// containsAll reports whether every entry of sub is present in super.
func containsAll(super, sub map[string]string) bool {
	for k, v := range sub {
		if got, ok := super[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func (a *AdminService) pick(pool []*DatabaseInstance) *DatabaseInstance {
	a.rndMu.Lock()
	defer a.rndMu.Unlock()
	return pool[a.rnd.IntN(len(pool))]
}

// FindDefaultInstance returns the only instance, or the configured default
// when several are registered.
func (a *AdminService) FindDefaultInstance() (*DatabaseInstance, error) {
	all := a.FindAllInstances(nil)
	switch {
	case len(all) == 1:
		return all[0], nil
	case len(all) == 0:
		return nil, fmt.Errorf("no database instance registered: %w", apperrors.ErrNotFound)
	case a.defaultName == "":
		return nil, apperrors.ErrAmbiguousDefault
	default:
		return a.FindInstanceByName(a.defaultName)
	}
}

// ExternalSchemaManager returns the manager, or nil before startup wired it.
func (a *AdminService) ExternalSchemaManager() *ExternalSchemaManager {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.external
}

// SetExternalSchemaManager wires the external schema manager.
func (a *AdminService) SetExternalSchemaManager(m *ExternalSchemaManager) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.external = m
}
