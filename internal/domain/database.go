package domain

import "fmt"

// DatabaseDriver represents the type of database engine backing the mirror.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// ParseDatabaseDriver validates a driver name.
func ParseDatabaseDriver(s string) (DatabaseDriver, error) {
	switch d := DatabaseDriver(s); d {
	case DatabaseDriverMySQL, DatabaseDriverPostgres, DatabaseDriverSQLite:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported driver: %q", s)
	}
}

// NeedsCredentials reports whether the driver authenticates with a user and
// password.
func (d DatabaseDriver) NeedsCredentials() bool {
	return d != DatabaseDriverSQLite
}

// DatabaseConnection holds the metadata for connecting to the mirror store.
// The password is supplied separately by the SecretStore.
type DatabaseConnection struct {
	Driver   DatabaseDriver `json:"driver" yaml:"driver"`
	Host     string         `json:"host" yaml:"host"`         // hostname, or file path for sqlite
	Port     int            `json:"port" yaml:"port"`         // 0 selects the driver default
	Database string         `json:"database" yaml:"database"` // empty for sqlite
	Username string         `json:"username" yaml:"username"`
	SSLMode  string         `json:"sslMode" yaml:"ssl_mode"`
}
