// Package oracle provisions one user and bigfile tablespace per schema.
// The driver needs cgo and the Oracle client libraries, so the manager is only
// compiled with the oracle or all_adapters build tag.
package oracle

import (
	"fmt"
	"strings"
)

// DefaultPort returns the default Oracle listener port.
func DefaultPort() int {
	return 1521
}

// normalize uppercases names, Oracle folds unquoted identifiers to upper case.
func normalize(name string) string {
	return strings.ToUpper(name)
}

// quotePassword wraps a password for IDENTIFIED BY. Oracle passwords may not
// contain double quotes at all.
func quotePassword(password string) (string, error) {
	if strings.Contains(password, `"`) {
		return "", fmt.Errorf("oracle passwords cannot contain double quotes")
	}
	return `"` + password + `"`, nil
}

func createStatements(name, quotedPassword, dataFolder string) []string {
	return []string{
		fmt.Sprintf("CREATE BIGFILE TABLESPACE %s DATAFILE '%s/%s.dbf' SIZE 10M AUTOEXTEND ON MAXSIZE 1000G", name, dataFolder, name),
		fmt.Sprintf("CREATE USER %s IDENTIFIED BY %s DEFAULT TABLESPACE %s", name, quotedPassword, name),
		fmt.Sprintf("GRANT CONNECT, RESOURCE TO %s", name),
		fmt.Sprintf("GRANT CREATE VIEW TO %s", name),
		fmt.Sprintf("ALTER USER %s QUOTA UNLIMITED ON %s", name, name),
	}
}

// updatePasswordStatements also unlocks the account, which may have been
// locked by clients retrying the previous password.
func updatePasswordStatements(name, quotedPassword string) []string {
	return []string{
		fmt.Sprintf("ALTER USER %s IDENTIFIED BY %s", name, quotedPassword),
		fmt.Sprintf("ALTER USER %s ACCOUNT UNLOCK", name),
	}
}

// killSessionStatements ends a session given as "sid,serial#". KILL alone does
// not always release the session, so it is disconnected as well.
func killSessionStatements(session string) []string {
	return []string{
		fmt.Sprintf("ALTER SYSTEM KILL SESSION '%s' IMMEDIATE", session),
		fmt.Sprintf("ALTER SYSTEM DISCONNECT SESSION '%s' IMMEDIATE", session),
	}
}

func dropStatements(name string) []string {
	return []string{
		fmt.Sprintf("DROP USER %s CASCADE", name),
		fmt.Sprintf("DROP TABLESPACE %s INCLUDING CONTENTS AND DATAFILES", name),
	}
}

const (
	dataFolderQuery = `SELECT SUBSTR(file_name, 1, INSTR(file_name, '/', -1) - 1) FROM dba_data_files WHERE tablespace_name = 'SYSTEM' AND ROWNUM = 1`

	schemaColumns = `SELECT username, created, CAST(last_login AS TIMESTAMP) FROM dba_users`

	nonSystemFilter = ` WHERE default_tablespace NOT IN ('SYSTEM', 'SYSAUX', 'USERS') AND default_tablespace = username AND username <> USER`

	sessionsQuery = `SELECT sid || ',' || serial# FROM v$session WHERE username = :1`

	sizesQuery = `SELECT owner, SUM(bytes) / 1024 / 1024 FROM dba_segments GROUP BY owner`
)
