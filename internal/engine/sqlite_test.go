package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/querysql"
	"github.com/roach88/vtharness/internal/vcf"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	e, err := OpenSQLite(filepath.Join(t.TempDir(), "engine.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// loadSmallVCF converts the shared small VCF and loads it into table.
func loadSmallVCF(t *testing.T, sink Sink, table string) {
	t.Helper()
	ctx := context.Background()

	f, err := os.Open("../vcf/testdata/small.vcf")
	require.NoError(t, err)
	defer f.Close()

	rd, err := vcf.NewReader(f)
	require.NoError(t, err)
	proc, err := bqrow.NewProcessor(rd.Header(), []string{"CSQ"})
	require.NoError(t, err)
	schema, err := bqrow.SchemaFromHeader(rd.Header(), proc.Parsers([]string{"CSQ"}))
	require.NoError(t, err)
	gen := bqrow.NewRowGenerator(schema, nil)

	var rows []bqrow.Row
	for {
		v, err := rd.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		pv, err := proc.Process(v)
		require.NoError(t, err)
		out, err := gen.Rows(pv, bqrow.Options{})
		require.NoError(t, err)
		rows = append(rows, out...)
	}

	require.NoError(t, sink.CreateTable(ctx, table, schema))
	require.NoError(t, sink.Write(ctx, table, rows))
}

func TestSQLite_FixtureQueries(t *testing.T) {
	ctx := context.Background()
	e := openTestSQLite(t)
	loadSmallVCF(t, e, "small")

	tests := []struct {
		name      string
		fragments []string
		column    string
		want      int64
	}{
		{"num rows", []string{querysql.NumRowsQuery}, "num_rows", 5},
		{"sum start", []string{querysql.SumStartQuery}, "sum_start", 3607195},
		{"sum end", []string{querysql.SumEndQuery}, "sum_end", 3607202},
		{
			name: "annotation sets",
			fragments: []string{
				"SELECT COUNT(0) AS num_annotation_sets ",
				"FROM {TABLE_NAME} AS T, T.alternate_bases AS A, A.CSQ AS CSQ",
			},
			column: "num_annotation_sets",
			want:   7,
		},
		{
			name: "hash sum",
			fragments: []string{
				"SELECT SUM(start_position * number_of_annotations) AS hash_sum ",
				"FROM ( ",
				"  SELECT start_position, reference_bases, A.alt, ",
				"         COUNT(0) AS number_of_annotations ",
				"  FROM {TABLE_NAME} AS T, T.alternate_bases AS A, A.CSQ AS CSQ",
				"  GROUP BY 1, 2, 3",
				")",
			},
			column: "hash_sum",
			want:   3643223,
		},
		{
			name: "distinct features",
			fragments: []string{
				"SELECT COUNT(DISTINCT CSQ.Feature) AS num_features ",
				"FROM {TABLE_NAME} AS T, T.alternate_bases AS A, A.CSQ AS CSQ",
			},
			column: "num_features",
			want:   5,
		},
		{
			name: "distinct symbols",
			fragments: []string{
				"SELECT COUNT(DISTINCT CSQ.SYMBOL) AS num_symbol ",
				"FROM {TABLE_NAME} AS T, T.alternate_bases AS A, A.CSQ AS CSQ",
			},
			column: "num_symbol",
			want:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, err := querysql.Render(tt.fragments, querysql.Vars{querysql.TableNameVar: e.TableRef("small")})
			require.NoError(t, err)

			rs, err := e.Query(ctx, sql)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.column}, rs.Columns)
			require.Len(t, rs.Rows, 1)
			assert.Equal(t, tt.want, rs.Rows[0][0])
		})
	}
}

func TestSQLite_CallsQueryable(t *testing.T) {
	ctx := context.Background()
	e := openTestSQLite(t)
	loadSmallVCF(t, e, "small")

	rs, err := e.Query(ctx, "SELECT COUNT(0) AS n FROM small AS T, T.call AS C WHERE C.GQ >= 35")
	require.NoError(t, err)
	assert.Equal(t, int64(6), rs.Rows[0][0])
}

func TestSQLite_CreateTableColumnTypes(t *testing.T) {
	ctx := context.Background()
	e := openTestSQLite(t)

	schema := &bqrow.Schema{Fields: []*bqrow.Field{
		{Name: "s", Type: bqrow.TypeString, Mode: bqrow.ModeNullable},
		{Name: "i", Type: bqrow.TypeInteger, Mode: bqrow.ModeNullable},
		{Name: "f", Type: bqrow.TypeFloat, Mode: bqrow.ModeNullable},
		{Name: "b", Type: bqrow.TypeBoolean, Mode: bqrow.ModeNullable},
		{Name: "l", Type: bqrow.TypeInteger, Mode: bqrow.ModeRepeated},
		{Name: "r", Type: bqrow.TypeRecord, Mode: bqrow.ModeNullable, Fields: []*bqrow.Field{
			{Name: "x", Type: bqrow.TypeString, Mode: bqrow.ModeNullable},
		}},
	}}
	require.NoError(t, e.CreateTable(ctx, "typed", schema))

	cols, err := e.Store().Columns(ctx, "typed")
	require.NoError(t, err)
	types := make([]string, len(cols))
	for i, c := range cols {
		types[i] = string(c.Type)
	}
	assert.Equal(t, []string{"TEXT", "INTEGER", "REAL", "BOOLEAN", "JSON", "JSON"}, types)
}

func TestSQLite_Dialect(t *testing.T) {
	e := openTestSQLite(t)
	assert.Equal(t, DialectSQLite, e.Dialect())
	assert.Equal(t, "vt_table", e.TableRef("vt_table"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Options{DBPath: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, b.Dialect())
	require.NoError(t, b.Close())

	_, err = Open(ctx, Options{Kind: "sqlite"}, nil)
	assert.ErrorContains(t, err, "requires a database path")

	_, err = Open(ctx, Options{Kind: "postgres"}, nil)
	assert.ErrorContains(t, err, `unknown engine "postgres"`)

	_, err = Open(ctx, Options{Kind: "bigquery", Dataset: "d"}, nil)
	assert.ErrorContains(t, err, "requires a project")
}
