package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/canonical"
)

// BigQuery is a Backend over a BigQuery dataset.
type BigQuery struct {
	client  *bigquery.Client
	project string
	dataset string
	logger  *slog.Logger
}

// NewBigQuery opens a client for project. Tables are created in dataset.
func NewBigQuery(ctx context.Context, project, dataset string, logger *slog.Logger, opts ...option.ClientOption) (*BigQuery, error) {
	if project == "" {
		return nil, fmt.Errorf("bigquery engine requires a project")
	}
	if dataset == "" {
		return nil, fmt.Errorf("bigquery engine requires a dataset")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return &BigQuery{client: client, project: project, dataset: dataset, logger: logger}, nil
}

func (e *BigQuery) Dialect() Dialect { return DialectBigQuery }

// TableRef returns the fully qualified, backtick-quoted table id.
func (e *BigQuery) TableRef(name string) string {
	return tableRef(e.project, e.dataset, name)
}

func tableRef(project, dataset, name string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, name)
}

func (e *BigQuery) Query(ctx context.Context, sql string) (*ResultSet, error) {
	e.logger.Debug("bigquery query", "sql", sql)

	q := e.client.Query(sql)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	rs := &ResultSet{Rows: [][]any{}}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query: read row: %w", err)
		}
		vals := make([]any, len(row))
		for i, v := range row {
			vals[i] = v
		}
		rs.Rows = append(rs.Rows, vals)
	}
	rs.Columns = make([]string, len(it.Schema))
	for i, f := range it.Schema {
		rs.Columns[i] = f.Name
	}
	return rs, nil
}

// CreateTable replaces any existing table with an empty one.
func (e *BigQuery) CreateTable(ctx context.Context, name string, schema *bqrow.Schema) error {
	t := e.client.Dataset(e.dataset).Table(name)
	if err := t.Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete table %s: %w", name, err)
	}
	md := &bigquery.TableMetadata{Schema: ToBigQuerySchema(schema)}
	if err := t.Create(ctx, md); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	e.logger.Debug("created bigquery table", "table", e.TableRef(name), "columns", len(md.Schema))
	return nil
}

// Write appends rows with a load job of newline-delimited JSON. Load jobs
// see a table recreated under the same name at once, where streamed rows
// could be dropped for a while after CreateTable.
func (e *BigQuery) Write(ctx context.Context, name string, rows []bqrow.Row) error {
	if len(rows) == 0 {
		return nil
	}
	data, err := ndjson(rows)
	if err != nil {
		return fmt.Errorf("write rows to %s: %w", name, err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON
	loader := e.client.Dataset(e.dataset).Table(name).LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("write rows to %s: %w", name, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("write rows to %s: job %s: %w", name, job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("write rows to %s: job %s: %w", name, job.ID(), err)
	}
	e.logger.Debug("loaded bigquery rows", "table", e.TableRef(name), "rows", len(rows), "job", job.ID())
	return nil
}

func (e *BigQuery) Close() error { return e.client.Close() }

// ndjson encodes rows one canonical JSON object per line.
func ndjson(rows []bqrow.Row) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range rows {
		line, err := canonical.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// ToBigQuerySchema converts a row schema to the client's schema type.
func ToBigQuerySchema(s *bqrow.Schema) bigquery.Schema {
	if s == nil {
		return nil
	}
	out := make(bigquery.Schema, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, toFieldSchema(f))
	}
	return out
}

func toFieldSchema(f *bqrow.Field) *bigquery.FieldSchema {
	fs := &bigquery.FieldSchema{
		Name:        f.Name,
		Description: f.Description,
		Repeated:    f.Repeated(),
	}
	switch f.Type {
	case bqrow.TypeInteger:
		fs.Type = bigquery.IntegerFieldType
	case bqrow.TypeFloat:
		fs.Type = bigquery.FloatFieldType
	case bqrow.TypeBoolean:
		fs.Type = bigquery.BooleanFieldType
	case bqrow.TypeRecord:
		fs.Type = bigquery.RecordFieldType
		fs.Schema = ToBigQuerySchema(&bqrow.Schema{Fields: f.Fields})
	default:
		fs.Type = bigquery.StringFieldType
	}
	return fs
}
