package engine

import (
	"github.com/ekaya-inc/dbhotel/pkg/models"
)

// InstanceConfig is what an adapter needs to reach one database server.
type InstanceConfig struct {
	Engine   models.Engine
	Host     string
	Port     int
	Username string
	Password string
	// Service is the Oracle service name, or the admin database for other engines.
	Service string
	// ClientService is the Oracle service written into schema connection URLs.
	ClientService string
	SSLMode       string
}
