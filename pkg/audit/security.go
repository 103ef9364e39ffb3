// Package audit provides security audit logging for SIEM consumption.
// Events are logged in structured JSON format so they can be parsed by
// security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dbhotel/pkg/auth"
	"github.com/ekaya-inc/dbhotel/pkg/models"
	sqlutil "github.com/ekaya-inc/dbhotel/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a label.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	EventSchemaCreated       SecurityEventType = "schema_created"
	EventSchemaDeleted       SecurityEventType = "schema_deleted"
	EventSchemaReactivated   SecurityEventType = "schema_reactivated"
	EventSchemaUpdated       SecurityEventType = "schema_updated"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	SchemaID  uuid.UUID         `json:"schema_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	Operation   string `json:"operation"`
}

// SchemaDetails describes the schema a lifecycle event applies to.
type SchemaDetails struct {
	Name            string            `json:"name"`
	Type            models.SchemaType `json:"type"`
	InstanceName    string            `json:"instance_name,omitempty"`
	Labels          models.Labels     `json:"labels,omitempty"`
	CooldownSeconds *int64            `json:"cooldown_seconds,omitempty"`
}

// SecurityAuditor logs security events. It also receives schema lifecycle
// notifications so every create, delete and restore leaves an audit record.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{
		logger: logger.Named("security_audit"),
		now:    time.Now,
	}
}

// CheckLabels runs injection detection over labels and logs every hit.
// Returns true when the labels are clean.
func (a *SecurityAuditor) CheckLabels(ctx context.Context, operation string, labels map[string]*string) bool {
	results := sqlutil.CheckLabels(labels)
	for _, r := range results {
		a.LogInjectionAttempt(ctx, SQLInjectionDetails{
			ParamName:   r.ParamName,
			ParamValue:  r.ParamValue,
			Fingerprint: r.Fingerprint,
			Operation:   operation,
		})
	}
	return len(results) == 0
}

// LogInjectionAttempt records a detected SQL injection attempt at ERROR level
// with critical severity.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details SQLInjectionDetails) {
	clientIP := auth.GetClientIPFromContext(ctx)
	event := SecurityEvent{
		Timestamp: a.now().UTC(),
		EventType: EventSQLInjectionAttempt,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("operation", details.Operation),
		zap.String("client_ip", clientIP),
		zap.String("severity", "critical"),
	)
}

func (a *SecurityAuditor) OnSchemaCreated(ctx context.Context, schema *models.DatabaseSchema) error {
	a.logSchemaEvent(ctx, EventSchemaCreated, "Schema created", schema, nil)
	return nil
}

func (a *SecurityAuditor) OnSchemaDeleted(ctx context.Context, schema *models.DatabaseSchema, cooldown time.Duration) error {
	seconds := int64(cooldown / time.Second)
	a.logSchemaEvent(ctx, EventSchemaDeleted, "Schema deleted", schema, &seconds)
	return nil
}

func (a *SecurityAuditor) OnSchemaReactivated(ctx context.Context, schema *models.DatabaseSchema) error {
	a.logSchemaEvent(ctx, EventSchemaReactivated, "Schema reactivated", schema, nil)
	return nil
}

func (a *SecurityAuditor) OnSchemaUpdated(ctx context.Context, schema *models.DatabaseSchema) error {
	a.logSchemaEvent(ctx, EventSchemaUpdated, "Schema updated", schema, nil)
	return nil
}

func (a *SecurityAuditor) logSchemaEvent(
	ctx context.Context,
	eventType SecurityEventType,
	msg string,
	schema *models.DatabaseSchema,
	cooldownSeconds *int64,
) {
	clientIP := auth.GetClientIPFromContext(ctx)
	details := SchemaDetails{
		Name:            schema.Name,
		Type:            schema.Type,
		Labels:          schema.Labels,
		CooldownSeconds: cooldownSeconds,
	}
	if schema.Instance != nil {
		details.InstanceName = schema.Instance.InstanceName
	}

	event := SecurityEvent{
		Timestamp: a.now().UTC(),
		EventType: eventType,
		SchemaID:  schema.ID,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "info",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Info(msg,
		zap.String("event_json", string(eventJSON)),
		zap.String("schema_id", schema.ID.String()),
		zap.String("schema_name", schema.Name),
		zap.String("client_ip", clientIP),
		zap.String("severity", "info"),
	)
}
