// Package engine runs rendered assertion queries and loads pipeline output
// into tables.
//
// Two backends exist: a local SQLite database, which rewrites BigQuery
// nested-array joins into json_each joins before executing, and BigQuery
// itself.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/vtharness/internal/bqrow"
)

// Dialect names the SQL dialect an engine executes.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectBigQuery Dialect = "bigquery"
)

// ResultSet is a query result: column names in select order and one slice
// of values per row.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Engine executes queries against the table under test.
type Engine interface {
	// Query runs a rendered query written in BigQuery standard SQL.
	Query(ctx context.Context, sql string) (*ResultSet, error)
	// TableRef is the text substituted for {TABLE_NAME}.
	TableRef(name string) string
	Dialect() Dialect
	Close() error
}

// Sink receives pipeline output.
type Sink interface {
	// CreateTable creates (or replaces) a table with the given schema.
	CreateTable(ctx context.Context, name string, schema *bqrow.Schema) error
	// Write appends rows to a table created with CreateTable.
	Write(ctx context.Context, name string, rows []bqrow.Row) error
}

// Backend is an engine that can also load tables.
type Backend interface {
	Engine
	Sink
}

// Options selects and configures a backend.
type Options struct {
	// Kind is "sqlite" or "bigquery".
	Kind string
	// DBPath is the SQLite database file.
	DBPath string
	// Project and Dataset locate BigQuery tables.
	Project string
	Dataset string
}

// Open returns the backend named by opts.Kind.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch Dialect(opts.Kind) {
	case DialectSQLite, "":
		if opts.DBPath == "" {
			return nil, fmt.Errorf("sqlite engine requires a database path")
		}
		return OpenSQLite(opts.DBPath, logger)
	case DialectBigQuery:
		return NewBigQuery(ctx, opts.Project, opts.Dataset, logger)
	default:
		return nil, fmt.Errorf("unknown engine %q (want sqlite or bigquery)", opts.Kind)
	}
}
