package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/config"
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

func TestInitializer_RetriesOnlyFailures(t *testing.T) {
	admin := NewAdminService(zap.NewNop())
	external := NewExternalSchemaManager(newMockSchemaRepository(), zap.NewNop())

	var mu sync.Mutex
	attempts := map[string]int{}
	build := func(ctx context.Context, cfg config.InstanceConfig) (*DatabaseInstance, error) {
		mu.Lock()
		attempts[cfg.InstanceName]++
		n := attempts[cfg.InstanceName]
		mu.Unlock()

		if cfg.InstanceName == "flaky" && n < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return newTestInstance(t, models.InstanceInfo{InstanceName: cfg.InstanceName, Host: cfg.Host}).DatabaseInstance, nil
	}

	instances := []config.InstanceConfig{
		{InstanceName: "stable", Host: "stable"},
		{InstanceName: "flaky", Host: "flaky"},
	}
	initializer := NewInitializer(admin, instances, build, external, 5*time.Millisecond, zap.NewNop())

	select {
	case <-initializer.Start(context.Background()):
	case <-time.After(5 * time.Second):
		t.Fatal("initializer did not finish")
	}

	assert.Len(t, admin.FindAllInstances(nil), 2)
	assert.Same(t, external, admin.ExternalSchemaManager())
	assert.Equal(t, 1, attempts["stable"])
	assert.Equal(t, 3, attempts["flaky"])
}

func TestInitializer_StopsOnCancel(t *testing.T) {
	admin := NewAdminService(zap.NewNop())
	external := NewExternalSchemaManager(newMockSchemaRepository(), zap.NewNop())
	build := func(ctx context.Context, cfg config.InstanceConfig) (*DatabaseInstance, error) {
		return nil, errors.New("unreachable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	initializer := NewInitializer(admin, []config.InstanceConfig{{InstanceName: "down", Host: "down"}}, build, external, time.Hour, zap.NewNop())
	done := initializer.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("initializer ignored cancellation")
	}
	require.Empty(t, admin.FindAllInstances(nil))
	assert.Nil(t, admin.ExternalSchemaManager())
}

func TestInitializer_NoInstancesWiresExternalImmediately(t *testing.T) {
	admin := NewAdminService(zap.NewNop())
	external := NewExternalSchemaManager(newMockSchemaRepository(), zap.NewNop())

	<-NewInitializer(admin, nil, nil, external, time.Hour, zap.NewNop()).Start(context.Background())
	assert.Same(t, external, admin.ExternalSchemaManager())
}
