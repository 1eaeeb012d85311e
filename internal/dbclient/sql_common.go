package dbclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"crashcounter/internal/etl"
)

// SQLStore implements etl.Store for Postgres, MySQL and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

var _ etl.Store = (*SQLStore)(nil)

// newSQLStore opens a database/sql handle for driverName.
func newSQLStore(driverName, dsn string, d dialect, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With(zap.String("driver", driverName)),
	}, nil
}

// Ping verifies connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// createTableSQL renders the dataset's CREATE TABLE IF NOT EXISTS statement.
func (s *SQLStore) createTableSQL(d *etl.Descriptor) string {
	defs := make([]string, 0, len(d.Schema.Fields)+1)
	for _, f := range d.Schema.Fields {
		def := s.dialect.quote(f.Name) + " " + s.dialect.columnType(f)
		if f.Name == d.PrimaryKey {
			def += " NOT NULL"
		}
		if c := s.dialect.columnConstraint(f); c != "" {
			def += " " + c
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", s.dialect.quote(d.PrimaryKey)))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		s.dialect.quote(d.Table), strings.Join(defs, ",\n\t"))
}

// insertSQL renders the INSERT (or upsert, for SyncMerge) statement for d.
func (s *SQLStore) insertSQL(d *etl.Descriptor, mode etl.SyncMode) string {
	cols := d.Schema.FieldNames()
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = s.dialect.quote(c)
		marks[i] = s.dialect.placeholder(i + 1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.quote(d.Table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if mode == etl.SyncMerge {
		q += s.dialect.upsertClause(d.PrimaryKey, cols)
	}
	return q
}

func (s *SQLStore) EnsureSchema(ctx context.Context, d *etl.Descriptor) error {
	if _, err := s.db.ExecContext(ctx, s.createTableSQL(d)); err != nil {
		return fmt.Errorf("create table %s: %w", d.Table, err)
	}
	return nil
}

func (s *SQLStore) CurrentFrontier(ctx context.Context, d *etl.Descriptor) (any, bool, error) {
	if err := s.EnsureSchema(ctx, d); err != nil {
		return nil, false, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT 1",
		s.dialect.quote(d.PrimaryKey), s.dialect.quote(d.Table), s.dialect.quote(d.FilterField))
	row := s.db.QueryRowContext(ctx, q)

	if d.KeyField().Type == etl.FieldInteger {
		var key sql.NullInt64
		if err := row.Scan(&key); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("query frontier of %s: %w", d.Table, err)
		}
		return key.Int64, key.Valid, nil
	}

	var key sql.NullString
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query frontier of %s: %w", d.Table, err)
	}
	return key.String, key.Valid, nil
}

func (s *SQLStore) WriteBatch(ctx context.Context, d *etl.Descriptor, records []etl.Record, mode etl.SyncMode) error {
	if mode != etl.SyncInsert && mode != etl.SyncMerge {
		return fmt.Errorf("unknown sync mode: %q", mode)
	}
	if len(records) == 0 {
		return nil
	}

	s.logger.Info("starting batch write",
		zap.String("mode", string(mode)),
		zap.Int("records", len(records)),
		zap.String("table", d.Table))

	err := s.applyBatch(ctx, d, records, mode)
	if err == nil {
		return nil
	}
	if !s.dialect.isTruncation(err) {
		return err
	}

	lengths := maxStringLengths(records)
	s.logger.Error("batch rejected: string value exceeds column length",
		zap.String("table", d.Table),
		zap.Any("max_lengths", lengths),
		zap.Error(err))
	return &etl.TruncationError{Dataset: d.Name, MaxLengths: lengths, Err: err}
}

// applyBatch runs the whole batch in one transaction.
func (s *SQLStore) applyBatch(ctx context.Context, d *etl.Descriptor, records []etl.Record, mode etl.SyncMode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insertSQL(d, mode))
	if err != nil {
		return fmt.Errorf("prepare %s: %w", mode, err)
	}
	defer stmt.Close()

	cols := d.Schema.FieldNames()
	args := make([]any, len(cols))
	for i, rec := range records {
		for j, c := range cols {
			args[j] = rec.Data[c]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%s record %d (%s=%v): %w", mode, i, d.PrimaryKey, rec.Key(d), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// maxStringLengths returns, per field, the longest string value in records.
func maxStringLengths(records []etl.Record) map[string]int {
	lengths := make(map[string]int)
	for _, rec := range records {
		for field, v := range rec.Data {
			str, ok := v.(string)
			if !ok {
				continue
			}
			if n := utf8.RuneCountInString(str); n > lengths[field] {
				lengths[field] = n
			}
		}
	}
	return lengths
}
