package postgres

import (
	"fmt"
	"strings"
)

// BuildURL returns the JDBC URL for a database on the instance.
// Azure hosted servers only accept encrypted connections.
func BuildURL(host string, port int, database string) string {
	if strings.Contains(host, "azure") {
		return fmt.Sprintf("jdbc:postgresql://%s:%d/%s?ssl=true&sslmode=require", host, port, database)
	}
	return fmt.Sprintf("jdbc:postgresql://%s:%d/%s", host, port, database)
}
