package dbclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"crashcounter/internal/domain"
	"crashcounter/internal/etl"
)

// erDataTooLong is MySQL's ER_DATA_TOO_LONG, raised in strict mode.
const erDataTooLong = 1406

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	// Format: user:password@tcp(host:port)/dbname?parseTime=true
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		conn.Username, password, conn.Host, port, conn.Database,
	)
	if conn.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}

type mysqlDialect struct{}

func (mysqlDialect) placeholder(int) string { return "?" }

func (mysqlDialect) quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) columnType(f etl.Field) string {
	switch f.Type {
	case etl.FieldInteger:
		return "BIGINT"
	case etl.FieldFloat:
		return "DOUBLE"
	case etl.FieldTimestamp:
		return "DATETIME"
	default:
		if f.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.Length)
		}
		return "LONGTEXT"
	}
}

func (mysqlDialect) columnConstraint(etl.Field) string { return "" }

func (d mysqlDialect) upsertClause(key string, cols []string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", d.quote(c), d.quote(c)))
	}
	if len(sets) == 0 {
		// No-op update keeps the statement valid for key-only schemas.
		sets = append(sets, fmt.Sprintf("%s = %s", d.quote(key), d.quote(key)))
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (mysqlDialect) isTruncation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erDataTooLong
}
