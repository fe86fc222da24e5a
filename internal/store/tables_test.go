package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTable_RecordsCatalog(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt_a")
	createVariantTable(t, s, "vt_b")

	cols, err := s.Columns(ctx, "vt_a")
	require.NoError(t, err)
	assert.Equal(t, variantColumns, cols)

	names, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"vt_a", "vt_b"}, names)
}

func TestCreateTable_Recreates(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt")

	require.NoError(t, s.InsertRows(ctx, "vt", []map[string]any{{"reference_name": "1"}}))
	createVariantTable(t, s, "vt")

	rs, err := s.Query(ctx, `SELECT COUNT(0) AS n FROM vt`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rs.Rows[0][0])
}

func TestCreateTable_Errors(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	assert.Error(t, s.CreateTable(ctx, "", variantColumns))
	assert.Error(t, s.CreateTable(ctx, "t", nil))

	err := s.CreateTable(ctx, "t", []Column{{Name: "a", Type: ColumnText}, {Name: "a", Type: ColumnText}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate column "a"`)

	err = s.CreateTable(ctx, "t", []Column{{Name: "a", Type: "BLOB"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown column type "BLOB"`)
}

func TestInsertRows_AndQuery(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt")

	err := s.InsertRows(ctx, "vt", []map[string]any{
		{
			"reference_name":  "20",
			"start_position":  int64(14369),
			"end_position":    int64(14370),
			"quality":         29.0,
			"DB":              true,
			"alternate_bases": []any{map[string]any{"alt": "A", "AF": 0.5}},
		},
		{
			"reference_name":  "20",
			"start_position":  int64(17329),
			"end_position":    int64(17330),
			"alternate_bases": []any{},
		},
	})
	require.NoError(t, err)

	rs, err := s.Query(ctx, `SELECT reference_name, start_position, quality, DB, alternate_bases FROM vt ORDER BY start_position`)
	require.NoError(t, err)
	assert.Equal(t, []string{"reference_name", "start_position", "quality", "DB", "alternate_bases"}, rs.Columns)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, []any{"20", int64(14369), 29.0, int64(1), `[{"AF":0.5,"alt":"A"}]`}, rs.Rows[0])
	assert.Equal(t, []any{"20", int64(17329), nil, nil, `[]`}, rs.Rows[1])

	maps := rs.Maps()
	assert.Equal(t, int64(17329), maps[1]["start_position"])
}

func TestInsertRows_JSONQueryable(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt")

	require.NoError(t, s.InsertRows(ctx, "vt", []map[string]any{
		{"start_position": int64(1), "alternate_bases": []any{
			map[string]any{"alt": "A"}, map[string]any{"alt": "G"},
		}},
		{"start_position": int64(2), "alternate_bases": []any{
			map[string]any{"alt": "T"},
		}},
	}))

	rs, err := s.Query(ctx, `SELECT COUNT(0) AS n FROM vt AS T, json_each(T.alternate_bases) AS A`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rs.Rows[0][0])
}

func TestInsertRows_Errors(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt")

	err := s.InsertRows(ctx, "missing", []map[string]any{{"a": 1}})
	assert.True(t, errors.Is(err, ErrTableNotFound))

	err = s.InsertRows(ctx, "vt", []map[string]any{{"nope": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `row 0: unknown column "nope"`)

	err = s.InsertRows(ctx, "vt", []map[string]any{{"DB": "yes"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")

	assert.NoError(t, s.InsertRows(ctx, "vt", nil))
}

func TestInsertRows_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt")

	err := s.InsertRows(ctx, "vt", []map[string]any{
		{"reference_name": "1"},
		{"nope": 1},
	})
	require.Error(t, err)

	rs, err := s.Query(ctx, `SELECT COUNT(0) FROM vt`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rs.Rows[0][0])
}

func TestDropTable(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	createVariantTable(t, s, "vt")

	require.NoError(t, s.DropTable(ctx, "vt"))
	require.NoError(t, s.DropTable(ctx, "vt"))

	_, err := s.Columns(ctx, "vt")
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = s.Query(ctx, `SELECT * FROM vt`)
	assert.Error(t, err)
}

func TestQuery_InvalidSQL(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Query(context.Background(), `SELEC 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query:")
}
