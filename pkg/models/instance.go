package models

import (
	"time"

	"github.com/google/uuid"
)

// InstanceInfo describes one registered database server.
type InstanceInfo struct {
	Engine              Engine            `json:"engine"`
	InstanceName        string            `json:"instance_name"`
	Host                string            `json:"host"`
	Port                int               `json:"port"`
	CreateSchemaAllowed bool              `json:"create_schema_allowed"`
	Labels              map[string]string `json:"labels"`
}

// InstanceRequirements narrow which instance a new schema may be placed on.
type InstanceRequirements struct {
	Engine         Engine
	InstanceName   string
	InstanceLabels map[string]string
	// InstanceFallback allows unlabelled instances when no labelled one matches.
	InstanceFallback bool
}

// PhysicalSchema is what a database server reports about one schema.
type PhysicalSchema struct {
	Username  string
	Created   time.Time
	LastLogin *time.Time
}

// SchemaSize is the measured storage used by one schema owner.
type SchemaSize struct {
	Owner  string  `json:"owner"`
	SizeMb float64 `json:"size_mb"`
}

// ExternalConnection holds the connection details for an external schema.
type ExternalConnection struct {
	SchemaID uuid.UUID
	URL      string
	Username string
	Password string
}

// ConnectionOverrides carries optional connection changes for external schemas.
type ConnectionOverrides struct {
	Username *string `json:"username,omitempty"`
	URL      *string `json:"jdbc_url,omitempty"`
	Password *string `json:"password,omitempty"`
}

// IsEmpty reports whether no override field is set.
func (c *ConnectionOverrides) IsEmpty() bool {
	return c == nil || (c.Username == nil && c.URL == nil && c.Password == nil)
}
