package dbclient

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"crashcounter/internal/etl"
)

// openSQLite opens (or creates) the SQLite file at path.
func openSQLite(path string, logger *zap.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s, err := newSQLStore("sqlite", path, sqliteDialect{}, logger)
	if err != nil {
		return nil, err
	}
	// SQLite only supports one writer; a single connection avoids SQLITE_BUSY.
	s.db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`} {
		if _, err := s.db.Exec(pragma); err != nil {
			_ = s.db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return s, nil
}

// sqliteDialect enforces text bounds with CHECK constraints, since SQLite
// ignores VARCHAR lengths.
type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) columnType(f etl.Field) string {
	switch f.Type {
	case etl.FieldInteger:
		return "INTEGER"
	case etl.FieldFloat:
		return "REAL"
	case etl.FieldTimestamp:
		return "TIMESTAMP"
	default:
		if f.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.Length)
		}
		return "TEXT"
	}
}

func (d sqliteDialect) columnConstraint(f etl.Field) string {
	if !f.Bounded() {
		return ""
	}
	return fmt.Sprintf("CONSTRAINT %s CHECK (length(%s) <= %d)",
		d.quote(f.Name+"_len"), d.quote(f.Name), f.Length)
}

func (d sqliteDialect) upsertClause(key string, cols []string) string {
	return conflictUpsert(d, key, cols, "excluded")
}

// isTruncation matches the length CHECK constraints declared by columnConstraint.
func (sqliteDialect) isTruncation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	code := sqErr.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_CHECK {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqErr.Error(), "CHECK constraint failed")
}
