package dbclient

import (
	"fmt"

	"go.uber.org/zap"

	"crashcounter/internal/domain"
	"crashcounter/internal/etl"
)

// dialect captures the SQL differences between the supported engines.
type dialect interface {
	// placeholder returns the bind marker for the n-th (1-based) argument.
	placeholder(n int) string
	quote(ident string) string
	columnType(f etl.Field) string
	// columnConstraint returns an extra column constraint, or "".
	columnConstraint(f etl.Field) string
	// upsertClause returns the suffix turning an INSERT into an upsert.
	upsertClause(key string, cols []string) string
	// isTruncation reports whether err is a "value too long for column" failure.
	isTruncation(err error) bool
}

// Open connects to the mirror store described by conn.
// The password must be provided separately (from the SecretStore).
func Open(conn *domain.DatabaseConnection, password string, logger *zap.Logger) (*SQLStore, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return openSQLite(conn.Host, logger)
	case domain.DatabaseDriverMySQL:
		return newSQLStore("mysql", buildMySQLDSN(conn, password), mysqlDialect{}, logger)
	case domain.DatabaseDriverPostgres:
		return newSQLStore("postgres", buildPostgresDSN(conn, password), postgresDialect{}, logger)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
