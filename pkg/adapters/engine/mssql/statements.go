package mssql

import (
	"fmt"
	"strings"
)

// quoteIdent brackets an identifier. Names are validated before they get here.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// normalize uppercases names so they read the same in every catalog view.
func normalize(name string) string {
	return strings.ToUpper(name)
}

// createStatements creates a login, a database and a user mapped to the login
// that owns the database. The user must be created from inside the new
// database, so that part runs as one batch.
func createStatements(name, password string) []string {
	ident := quoteIdent(name)
	return []string{
		fmt.Sprintf("CREATE LOGIN %s WITH PASSWORD = %s, CHECK_POLICY = OFF", ident, quoteLiteral(password)),
		fmt.Sprintf("CREATE DATABASE %s", ident),
		fmt.Sprintf("USE %s; CREATE USER %s FOR LOGIN %s; ALTER ROLE db_owner ADD MEMBER %s;", ident, ident, ident, ident),
	}
}

func updatePasswordStatement(name, password string) string {
	return fmt.Sprintf("ALTER LOGIN %s WITH PASSWORD = %s", quoteIdent(name), quoteLiteral(password))
}

func dropStatements(name string) []string {
	ident := quoteIdent(name)
	return []string{
		fmt.Sprintf("ALTER DATABASE %s SET SINGLE_USER WITH ROLLBACK IMMEDIATE", ident),
		fmt.Sprintf("DROP DATABASE %s", ident),
		fmt.Sprintf("DROP LOGIN %s", ident),
	}
}

const (
	existsQuery = `SELECT COUNT(*) FROM sys.server_principals WHERE name = @p1 AND type = 'S'`

	// last_login is the most recent login of a live session; SQL Server keeps no history.
	schemaQuery = `
		SELECT d.name, d.create_date,
			(SELECT MAX(s.login_time) FROM sys.dm_exec_sessions s WHERE s.login_name = d.name) AS last_login
		FROM sys.databases d
		WHERE d.database_id > 4`

	sessionsQuery = `SELECT CAST(session_id AS varchar(10)) FROM sys.dm_exec_sessions WHERE login_name = @p1 AND session_id <> @@SPID`

	sizesQuery = `
		SELECT DB_NAME(database_id) AS owner, SUM(CAST(size AS bigint)) * 8.0 / 1024 AS size_mb
		FROM sys.master_files
		WHERE database_id > 4
		GROUP BY database_id`
)
