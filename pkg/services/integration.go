package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// Integration receives schema lifecycle notifications after the change has
// been persisted. Errors and panics are logged and never reach the caller.
type Integration interface {
	OnSchemaCreated(ctx context.Context, schema *models.DatabaseSchema) error
	OnSchemaDeleted(ctx context.Context, schema *models.DatabaseSchema, cooldown time.Duration) error
	OnSchemaReactivated(ctx context.Context, schema *models.DatabaseSchema) error
	OnSchemaUpdated(ctx context.Context, schema *models.DatabaseSchema) error
}

// integrations is a registration list safe for concurrent use.
type integrations struct {
	mu     sync.Mutex
	list   []Integration
	logger *zap.Logger
}

func (i *integrations) register(integration Integration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.list = append(i.list, integration)
}

func (i *integrations) snapshot() []Integration {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Integration, len(i.list))
	copy(out, i.list)
	return out
}

func (i *integrations) schemaCreated(ctx context.Context, schema *models.DatabaseSchema) {
	i.dispatch("created", schema, func(in Integration) error { return in.OnSchemaCreated(ctx, schema) })
}

func (i *integrations) schemaDeleted(ctx context.Context, schema *models.DatabaseSchema, cooldown time.Duration) {
	i.dispatch("deleted", schema, func(in Integration) error { return in.OnSchemaDeleted(ctx, schema, cooldown) })
}

func (i *integrations) schemaReactivated(ctx context.Context, schema *models.DatabaseSchema) {
	i.dispatch("reactivated", schema, func(in Integration) error { return in.OnSchemaReactivated(ctx, schema) })
}

func (i *integrations) schemaUpdated(ctx context.Context, schema *models.DatabaseSchema) {
	i.dispatch("updated", schema, func(in Integration) error { return in.OnSchemaUpdated(ctx, schema) })
}

func (i *integrations) dispatch(event string, schema *models.DatabaseSchema, call func(Integration) error) {
	for _, in := range i.snapshot() {
		if err := safeCall(in, call); err != nil {
			i.logger.Error("Integration failed",
				zap.String("event", event),
				zap.String("schema_id", schema.ID.String()),
				zap.String("integration", fmt.Sprintf("%T", in)),
				zap.Error(err))
		}
	}
}

func safeCall(in Integration, call func(Integration) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("integration panicked: %v", r)
		}
	}()
	return call(in)
}
