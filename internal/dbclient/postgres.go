package dbclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"crashcounter/internal/domain"
	"crashcounter/internal/etl"
)

// sqlStateStringDataRightTruncation is raised when a value exceeds varchar(n).
const sqlStateStringDataRightTruncation = "22001"

// buildPostgresDSN constructs a Postgres connection string from a DatabaseConnection.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conn.Host, port, conn.Username, password, conn.Database, sslMode,
	)
}

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (postgresDialect) columnType(f etl.Field) string {
	switch f.Type {
	case etl.FieldInteger:
		return "BIGINT"
	case etl.FieldFloat:
		return "DOUBLE PRECISION"
	case etl.FieldTimestamp:
		return "TIMESTAMP"
	default:
		if f.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.Length)
		}
		return "TEXT"
	}
}

func (postgresDialect) columnConstraint(etl.Field) string { return "" }

func (d postgresDialect) upsertClause(key string, cols []string) string {
	return conflictUpsert(d, key, cols, "EXCLUDED")
}

func (postgresDialect) isTruncation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == sqlStateStringDataRightTruncation
}

// conflictUpsert builds the ON CONFLICT form shared by Postgres and SQLite.
func conflictUpsert(d dialect, key string, cols []string, excluded string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s.%s", d.quote(c), excluded, d.quote(c)))
	}
	if len(sets) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", d.quote(key))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", d.quote(key), strings.Join(sets, ", "))
}
