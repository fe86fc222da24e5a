package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/querysql"
	"github.com/roach88/vtharness/internal/store"
)

// SQLite is a Backend over a local store. Repeated and record columns are
// stored as JSON text.
type SQLite struct {
	store  *store.Store
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return NewSQLite(st, logger), nil
}

// NewSQLite wraps an open store.
func NewSQLite(st *store.Store, logger *slog.Logger) *SQLite {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{store: st, logger: logger}
}

// Store exposes the underlying store for run history.
func (e *SQLite) Store() *store.Store { return e.store }

func (e *SQLite) Dialect() Dialect { return DialectSQLite }

// TableRef returns the bare table name.
func (e *SQLite) TableRef(name string) string { return name }

// Query translates sql to SQLite and executes it.
func (e *SQLite) Query(ctx context.Context, sql string) (*ResultSet, error) {
	translated := querysql.TranslateSQLite(sql)
	e.logger.Debug("sqlite query", "sql", translated)

	rs, err := e.store.Query(ctx, translated)
	if err != nil {
		return nil, err
	}
	return &ResultSet{Columns: rs.Columns, Rows: rs.Rows}, nil
}

func (e *SQLite) CreateTable(ctx context.Context, name string, schema *bqrow.Schema) error {
	cols := make([]store.Column, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		cols = append(cols, store.Column{Name: f.Name, Type: columnType(f)})
	}
	e.logger.Debug("create sqlite table", "table", name, "columns", len(cols))
	return e.store.CreateTable(ctx, name, cols)
}

func (e *SQLite) Write(ctx context.Context, name string, rows []bqrow.Row) error {
	maps := make([]map[string]any, len(rows))
	for i, r := range rows {
		maps[i] = map[string]any(r)
	}
	if err := e.store.InsertRows(ctx, name, maps); err != nil {
		return fmt.Errorf("write %d rows to %s: %w", len(rows), name, err)
	}
	return nil
}

func (e *SQLite) Close() error { return e.store.Close() }

func columnType(f *bqrow.Field) store.ColumnType {
	if f.Repeated() || f.Type == bqrow.TypeRecord {
		return store.ColumnJSON
	}
	switch f.Type {
	case bqrow.TypeInteger:
		return store.ColumnInteger
	case bqrow.TypeFloat:
		return store.ColumnReal
	case bqrow.TypeBoolean:
		return store.ColumnBool
	default:
		return store.ColumnText
	}
}
