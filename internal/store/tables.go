package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/vtharness/internal/canonical"
)

// ErrTableNotFound is returned for tables missing from the catalog.
var ErrTableNotFound = errors.New("table not found")

// ColumnType is the storage class of a column.
type ColumnType string

const (
	ColumnText    ColumnType = "TEXT"
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
	ColumnBool    ColumnType = "BOOLEAN"
	// ColumnJSON holds repeated and record values as canonical JSON text.
	ColumnJSON ColumnType = "JSON"
)

// Column is one column of a stored table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// ResultSet is the outcome of a query: column names in select order and
// one slice of values per row.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Maps returns each row as a column-name keyed map.
func (r *ResultSet) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			m[col] = row[j]
		}
		out[i] = m
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(t ColumnType) (string, error) {
	switch t {
	case ColumnText, ColumnJSON:
		return "TEXT", nil
	case ColumnInteger, ColumnBool:
		return "INTEGER", nil
	case ColumnReal:
		return "REAL", nil
	default:
		return "", fmt.Errorf("unknown column type %q", t)
	}
}

// CreateTable drops any table called name and creates it with cols.
func (s *Store) CreateTable(ctx context.Context, name string, cols []Column) error {
	if name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s: at least one column is required", name)
	}

	defs := make([]string, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %q", name, c.Name)
		}
		seen[c.Name] = true
		typ, err := sqlType(c.Type)
		if err != nil {
			return fmt.Errorf("table %s column %s: %w", name, c.Name, err)
		}
		defs = append(defs, quoteIdent(c.Name)+" "+typ)
	}

	catalog, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vt_tables (name, columns, created_seq)
			VALUES (?, ?, COALESCE((SELECT MAX(created_seq) FROM vt_tables), 0) + 1)
			ON CONFLICT(name) DO UPDATE SET
				columns = excluded.columns,
				created_seq = excluded.created_seq
		`, name, string(catalog))
		if err != nil {
			return fmt.Errorf("record table %s: %w", name, err)
		}
		return nil
	})
}

// Columns returns the catalog columns of a table.
func (s *Store) Columns(ctx context.Context, name string) ([]Column, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM vt_tables WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}

	var cols []Column
	if err := json.Unmarshal([]byte(raw), &cols); err != nil {
		return nil, fmt.Errorf("unmarshal columns of %s: %w", name, err)
	}
	return cols, nil
}

// Tables returns catalog table names in creation order.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM vt_tables ORDER BY created_seq ASC, name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return names, nil
}

// DropTable removes a table and its catalog entry. Dropping a missing table
// is not an error.
func (s *Store) DropTable(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vt_tables WHERE name = ?`, name); err != nil {
			return fmt.Errorf("forget table %s: %w", name, err)
		}
		return nil
	})
}

// InsertRows writes rows into a catalog table in one transaction. Keys not
// in the catalog are an error; missing keys are stored as NULL.
func (s *Store) InsertRows(ctx context.Context, name string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	cols, err := s.Columns(ctx, name)
	if err != nil {
		return err
	}
	index := make(map[string]int, len(cols))
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		index[c.Name] = i
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}

	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(names, ", "), strings.Join(marks, ", "))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, stmtSQL)
		if err != nil {
			return fmt.Errorf("prepare insert into %s: %w", name, err)
		}
		defer stmt.Close()

		for i, row := range rows {
			args := make([]any, len(cols))
			for key, value := range row {
				idx, ok := index[key]
				if !ok {
					return fmt.Errorf("row %d: unknown column %q in table %s", i, key, name)
				}
				encoded, err := encodeValue(cols[idx].Type, value)
				if err != nil {
					return fmt.Errorf("row %d column %s: %w", i, key, err)
				}
				args[idx] = encoded
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert row %d into %s: %w", i, name, err)
			}
		}
		return nil
	})
}

func encodeValue(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case ColumnJSON:
		text, err := canonical.MarshalString(v)
		if err != nil {
			return nil, err
		}
		return text, nil
	case ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return v, nil
	}
}

// Query runs a read query. TEXT and BLOB values come back as strings.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	rs := &ResultSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}
