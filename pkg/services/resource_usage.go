package services

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/dbhotel/pkg/logging"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// ResourceUsageCollector reports storage used per schema.
type ResourceUsageCollector interface {
	// SchemaSizes returns the measured size in megabytes keyed by normalised schema name.
	SchemaSizes(ctx context.Context) (map[string]float64, error)

	// SchemaSize returns the size of one schema, or 0 when it was not measured.
	SchemaSize(ctx context.Context, name string) (float64, error)
}

// SizeSource measures schema sizes; engine.Manager satisfies it.
type SizeSource interface {
	SchemaSizes(ctx context.Context) ([]models.SchemaSize, error)
}

type usageSnapshot struct {
	sizes   map[string]float64
	takenAt time.Time
}

// cachedResourceUsage keeps the whole measurement for a fixed period. Only one
// refresh runs at a time; readers see the previous or the new snapshot.
type cachedResourceUsage struct {
	source   SizeSource
	expiry   time.Duration
	now      func() time.Time
	logger   *zap.Logger
	snapshot atomic.Pointer[usageSnapshot]
	group    singleflight.Group
}

// NewCachedResourceUsage returns a collector that measures at most once per expiry.
func NewCachedResourceUsage(source SizeSource, expiry time.Duration, logger *zap.Logger) ResourceUsageCollector {
	return &cachedResourceUsage{
		source: source,
		expiry: expiry,
		now:    time.Now,
		logger: logger.Named("resource_usage"),
	}
}

func (c *cachedResourceUsage) SchemaSizes(ctx context.Context) (map[string]float64, error) {
	if snap := c.snapshot.Load(); snap != nil && c.now().Sub(snap.takenAt) < c.expiry {
		return snap.sizes, nil
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		// Another caller may have refreshed while this one waited.
		if snap := c.snapshot.Load(); snap != nil && c.now().Sub(snap.takenAt) < c.expiry {
			return snap, nil
		}
		sizes, err := c.source.SchemaSizes(ctx)
		if err != nil {
			return nil, err
		}
		snap := &usageSnapshot{sizes: make(map[string]float64, len(sizes)), takenAt: c.now()}
		for _, s := range sizes {
			snap.sizes[strings.ToUpper(s.Owner)] = s.SizeMb
		}
		c.snapshot.Store(snap)
		return snap, nil
	})
	if err != nil {
		// Serve the stale measurement rather than failing a listing over sizes.
		if snap := c.snapshot.Load(); snap != nil {
			c.logger.Warn("Failed to refresh schema sizes, serving previous measurement",
				zap.String("error", logging.SanitizeError(err)))
			return snap.sizes, nil
		}
		return nil, err
	}
	return v.(*usageSnapshot).sizes, nil
}

func (c *cachedResourceUsage) SchemaSize(ctx context.Context, name string) (float64, error) {
	sizes, err := c.SchemaSizes(ctx)
	if err != nil {
		return 0, err
	}
	return sizes[strings.ToUpper(name)], nil
}
