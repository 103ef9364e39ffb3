package models

import (
	"fmt"
	"strings"
)

// Engine identifies the database technology backing an instance.
type Engine string

const (
	EnginePostgres Engine = "POSTGRES"
	EngineOracle   Engine = "ORACLE"
	EngineMSSQL    Engine = "MSSQL"
)

// AllEngines lists every supported engine in a stable order.
var AllEngines = []Engine{EnginePostgres, EngineOracle, EngineMSSQL}

// ParseEngine accepts engine names case-insensitively.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(EnginePostgres), "POSTGRESQL":
		return EnginePostgres, nil
	case string(EngineOracle):
		return EngineOracle, nil
	case string(EngineMSSQL), "SQLSERVER":
		return EngineMSSQL, nil
	default:
		return "", fmt.Errorf("unknown database engine: %q", s)
	}
}

// EngineFromURL detects the engine from a JDBC style connection URL.
func EngineFromURL(url string) (Engine, error) {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "jdbc:postgresql:"):
		return EnginePostgres, nil
	case strings.HasPrefix(lower, "jdbc:oracle:"):
		return EngineOracle, nil
	case strings.HasPrefix(lower, "jdbc:sqlserver:"):
		return EngineMSSQL, nil
	default:
		return "", fmt.Errorf("unable to determine engine from url %q", url)
	}
}

// IsValid reports whether e is one of the supported engines.
func (e Engine) IsValid() bool {
	for _, known := range AllEngines {
		if e == known {
			return true
		}
	}
	return false
}
