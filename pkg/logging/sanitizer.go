package logging

import (
	"regexp"
)

const (
	// MaxStatementLogLength is the maximum length of a SQL statement to log
	MaxStatementLogLength = 120
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in URL style connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s;?]+`)

	// user/pass@host in Oracle easy-connect strings
	oracleConnPattern = regexp.MustCompile(`\b[\w$#]+/[^@\s]+@([\w.\-]+)`)

	// credentials embedded in DDL: "with password 'x'", "identified by x", "password = 'x'"
	ddlPasswordPattern = regexp.MustCompile(`(?i)(with\s+password|identified\s+by|password\s*=)\s*("[^"]*"|'[^']*'|\S+)`)

	// Authorization header values
	tokenPattern = regexp.MustCompile(`(?i)(aurora-token|bearer)\s+\S+`)
)

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	sanitized = oracleConnPattern.ReplaceAllString(sanitized, RedactedText+"@${1}")
	return sanitized
}

// SanitizeError sanitizes error messages that might contain credentials.
// Use this before logging any error from engine or metadata operations.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := SanitizeConnectionString(err.Error())
	sanitized = ddlPasswordPattern.ReplaceAllString(sanitized, "${1} "+RedactedText)
	sanitized = tokenPattern.ReplaceAllString(sanitized, "${1} "+RedactedText)
	return sanitized
}

// SanitizeStatement truncates a SQL statement and strips passwords from DDL.
func SanitizeStatement(stmt string) string {
	if stmt == "" {
		return ""
	}

	sanitized := ddlPasswordPattern.ReplaceAllString(stmt, "${1} "+RedactedText)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return TruncateString(sanitized, MaxStatementLogLength)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
