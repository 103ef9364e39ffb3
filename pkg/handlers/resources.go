package handlers

import (
	"slices"
	"time"

	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// DatabaseInstanceResource describes a database server to API clients.
type DatabaseInstanceResource struct {
	Engine              models.Engine     `json:"engine"`
	Host                string            `json:"host"`
	CreateSchemaAllowed bool              `json:"createSchemaAllowed"`
	InstanceName        string            `json:"instanceName"`
	Port                int               `json:"port"`
	Labels              map[string]string `json:"labels,omitempty"`
}

// UserResource is one credential of a schema.
type UserResource struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

// SchemaMetadataResource carries measured usage. SizeInMb is null for
// external schemas.
type SchemaMetadataResource struct {
	SizeInMb *float64 `json:"sizeInMb"`
}

// DatabaseSchemaResource matches what schema clients consume.
type DatabaseSchemaResource struct {
	ID               string                    `json:"id"`
	Type             models.SchemaType         `json:"type"`
	JdbcURL          string                    `json:"jdbcUrl"`
	Name             string                    `json:"name"`
	CreatedDate      time.Time                 `json:"createdDate"`
	LastUsedDate     *time.Time                `json:"lastUsedDate"`
	DatabaseInstance *DatabaseInstanceResource `json:"databaseInstance,omitempty"`
	Users            []UserResource            `json:"users"`
	Labels           models.Labels             `json:"labels"`
	Metadata         SchemaMetadataResource    `json:"metadata"`
}

// RestorableDatabaseSchemaResource is a schema in cooldown.
type RestorableDatabaseSchemaResource struct {
	SetToCooldownAt time.Time              `json:"setToCooldownAt"`
	DeleteAfter     time.Time              `json:"deleteAfter"`
	DatabaseSchema  DatabaseSchemaResource `json:"databaseSchema"`
}

// SweepResultResource reports an on-demand cleanup.
type SweepResultResource struct {
	Host      string            `json:"host"`
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

func toInstanceResource(info models.InstanceInfo) DatabaseInstanceResource {
	return DatabaseInstanceResource{
		Engine:              info.Engine,
		Host:                info.Host,
		CreateSchemaAllowed: info.CreateSchemaAllowed,
		InstanceName:        info.InstanceName,
		Port:                info.Port,
		Labels:              info.Labels,
	}
}

func toSchemaResource(s *models.DatabaseSchema) DatabaseSchemaResource {
	users := make([]UserResource, len(s.Users))
	for i, u := range s.Users {
		users[i] = UserResource{Username: u.Name, Password: u.Password, Type: string(u.Type)}
	}

	labels := s.Labels
	if labels == nil {
		labels = models.Labels{}
	}

	res := DatabaseSchemaResource{
		ID:           s.ID.String(),
		Type:         s.Type,
		JdbcURL:      s.ConnectionURL,
		Name:         s.Name,
		CreatedDate:  s.CreatedDate,
		LastUsedDate: s.LastUsedDate,
		Users:        users,
		Labels:       labels,
	}
	if s.Instance != nil {
		inst := toInstanceResource(*s.Instance)
		res.DatabaseInstance = &inst
	}
	if !s.IsExternal() {
		size := s.SizeMb
		res.Metadata.SizeInMb = &size
	}
	return res
}

// sortByLastUse orders schemas by last use, oldest first.
func sortByLastUse(schemas []*models.DatabaseSchema) []*models.DatabaseSchema {
	sorted := slices.Clone(schemas)
	slices.SortStableFunc(sorted, func(a, b *models.DatabaseSchema) int {
		return a.LastUsedOrCreatedDate().Compare(b.LastUsedOrCreatedDate())
	})
	return sorted
}

func toSchemaResources(schemas []*models.DatabaseSchema) []DatabaseSchemaResource {
	sorted := sortByLastUse(schemas)
	out := make([]DatabaseSchemaResource, len(sorted))
	for i, s := range sorted {
		out[i] = toSchemaResource(s)
	}
	return out
}
