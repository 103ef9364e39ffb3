package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaType distinguishes schemas this system owns physically from ones it only tracks.
type SchemaType string

const (
	SchemaTypeManaged  SchemaType = "MANAGED"
	SchemaTypeExternal SchemaType = "EXTERNAL"
)

// UserType is the role a credential plays for a schema.
type UserType string

const (
	UserTypeSchema   UserType = "SCHEMA"
	UserTypeReadOnly UserType = "READONLY"
)

// SchemaData is the persisted metadata record for a schema.
type SchemaData struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	SchemaType      SchemaType `json:"schema_type"`
	Active          bool       `json:"active"`
	CreatedDate     time.Time  `json:"created_date"`
	SetToCooldownAt *time.Time `json:"set_to_cooldown_at,omitempty"`
	DeleteAfter     *time.Time `json:"delete_after,omitempty"`
}

// User is a credential record attached to a schema.
type User struct {
	ID       uuid.UUID `json:"id"`
	SchemaID uuid.UUID `json:"-"`
	Name     string    `json:"name"`
	Password string    `json:"password"`
	Type     UserType  `json:"type"`
}

// Labels maps label names to values. A nil value is a label present without a value.
type Labels map[string]*string

// Clone returns a copy that shares no map storage with l.
func (l Labels) Clone() Labels {
	if l == nil {
		return Labels{}
	}
	out := make(Labels, len(l))
	for k, v := range l {
		if v == nil {
			out[k] = nil
			continue
		}
		s := *v
		out[k] = &s
	}
	return out
}

// Value returns the label value, or "" when the label is absent or valueless.
func (l Labels) Value(name string) string {
	if v, ok := l[name]; ok && v != nil {
		return *v
	}
	return ""
}

// LabelsOf builds Labels from plain string pairs.
func LabelsOf(pairs map[string]string) Labels {
	out := make(Labels, len(pairs))
	for k, v := range pairs {
		s := v
		out[k] = &s
	}
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// DatabaseSchema is the assembled view of a schema returned to callers.
// Instance is nil for external schemas.
type DatabaseSchema struct {
	ID              uuid.UUID     `json:"id"`
	Active          bool          `json:"active"`
	Instance        *InstanceInfo `json:"database_instance,omitempty"`
	ConnectionURL   string        `json:"jdbc_url"`
	Name            string        `json:"name"`
	CreatedDate     time.Time     `json:"created_date"`
	LastUsedDate    *time.Time    `json:"last_used_date,omitempty"`
	SetToCooldownAt *time.Time    `json:"set_to_cooldown_at,omitempty"`
	DeleteAfter     *time.Time    `json:"delete_after,omitempty"`
	SizeMb          float64       `json:"size_in_mb"`
	Users           []*User       `json:"users"`
	Labels          Labels        `json:"labels"`
	Type            SchemaType    `json:"type"`
}

// AddUser attaches a user, replacing any existing user with the same name.
func (s *DatabaseSchema) AddUser(u *User) {
	for i, existing := range s.Users {
		if existing.Name == u.Name {
			s.Users[i] = u
			return
		}
	}
	s.Users = append(s.Users, u)
}

// SetLabels replaces the full label set.
func (s *DatabaseSchema) SetLabels(labels Labels) {
	s.Labels = labels.Clone()
}

// User returns the user with the given type, if any.
func (s *DatabaseSchema) User(t UserType) *User {
	for _, u := range s.Users {
		if u.Type == t {
			return u
		}
	}
	return nil
}

// LastUsedOrCreatedDate is the reference date used for staleness checks.
func (s *DatabaseSchema) LastUsedOrCreatedDate() time.Time {
	if s.LastUsedDate != nil {
		return *s.LastUsedDate
	}
	return s.CreatedDate
}

// IsUnused reports whether nobody has ever logged in to the schema.
func (s *DatabaseSchema) IsUnused() bool {
	return s.LastUsedDate == nil
}

// IsExternal reports whether the schema is tracked but not owned.
func (s *DatabaseSchema) IsExternal() bool {
	return s.Type == SchemaTypeExternal
}
