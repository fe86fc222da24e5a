package bqrow

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vtharness/internal/vcf"
)

const smallVCF = "../vcf/testdata/small.vcf"

type fixture struct {
	header    *vcf.Header
	processor *Processor
	schema    *Schema
	variants  []*vcf.Variant
}

func loadSmall(t *testing.T, annotationFields ...string) *fixture {
	t.Helper()
	f, err := os.Open(smallVCF)
	require.NoError(t, err)
	defer f.Close()
	return loadVCF(t, f, annotationFields...)
}

func loadVCF(t *testing.T, r io.Reader, annotationFields ...string) *fixture {
	t.Helper()
	rd, err := vcf.NewReader(r)
	require.NoError(t, err)

	fx := &fixture{header: rd.Header()}
	for {
		v, err := rd.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fx.variants = append(fx.variants, v)
	}

	fx.processor, err = NewProcessor(fx.header, annotationFields)
	require.NoError(t, err)
	fx.schema, err = SchemaFromHeader(fx.header, fx.processor.Parsers(annotationFields))
	require.NoError(t, err)
	return fx
}

func (fx *fixture) rows(t *testing.T, i int, opts Options) []Row {
	t.Helper()
	pv, err := fx.processor.Process(fx.variants[i])
	require.NoError(t, err)
	rows, err := NewRowGenerator(fx.schema, nil).Rows(pv, opts)
	require.NoError(t, err)
	return rows
}

func fieldNames(fields []*Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func TestSchemaFromHeader(t *testing.T) {
	fx := loadSmall(t, "CSQ")

	assert.Equal(t, []string{
		"reference_name", "start_position", "end_position", "reference_bases",
		"alternate_bases", "names", "quality", "filter", "call", "NS", "DB",
	}, fx.schema.Names())

	alt := fx.schema.Field(ColAlternateBases)
	assert.Equal(t, TypeRecord, alt.Type)
	assert.True(t, alt.Repeated())
	assert.Equal(t, []string{"alt", "AF", "CSQ"}, fieldNames(alt.Fields))

	csq := lookup(alt.Fields, "CSQ")
	assert.Equal(t, TypeRecord, csq.Type)
	assert.Equal(t, []string{"Allele", "Consequence", "IMPACT", "SYMBOL", "Feature"}, fieldNames(csq.Fields))

	calls := fx.schema.Record(ColCalls)
	require.NotNil(t, calls)
	assert.Equal(t, []string{"name", "genotype", "phaseset", "GQ", "DP"}, calls.Names())

	assert.Equal(t, TypeBoolean, fx.schema.Field("DB").Type)
	assert.Equal(t, ModeNullable, fx.schema.Field("NS").Mode)
}

func TestSchemaFromHeader_WithoutAnnotations(t *testing.T) {
	fx := loadSmall(t)

	csq := fx.schema.Field("CSQ")
	require.NotNil(t, csq)
	assert.Equal(t, TypeString, csq.Type)
	assert.True(t, csq.Repeated())
}

func TestNewProcessor_UnknownAnnotationField(t *testing.T) {
	fx := loadSmall(t)
	_, err := NewProcessor(fx.header, []string{"ANN"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANN is not declared")
}

func TestRows_FirstVariant(t *testing.T) {
	fx := loadSmall(t, "CSQ")
	rows := fx.rows(t, 0, Options{})
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, "20", row[ColReferenceName])
	assert.Equal(t, int64(14369), row[ColStartPosition])
	assert.Equal(t, int64(14370), row[ColEndPosition])
	assert.Equal(t, []any{"rs6054257"}, row[ColNames])
	assert.Equal(t, 29.0, row[ColQuality])
	assert.Equal(t, []any{"PASS"}, row[ColFilter])
	assert.Equal(t, int64(2), row["NS"])
	assert.Equal(t, true, row["DB"])
	assert.NotContains(t, row, "CSQ")

	alts := row[ColAlternateBases].([]any)
	require.Len(t, alts, 1)
	alt := alts[0].(map[string]any)
	assert.Equal(t, "A", alt[ColAlt])
	assert.Equal(t, 0.5, alt["AF"])
	csq := alt["CSQ"].([]any)
	require.Len(t, csq, 2)
	assert.Equal(t, "ENST01", csq[0].(map[string]any)["Feature"])

	calls := row[ColCalls].([]any)
	require.Len(t, calls, 2)
	call := calls[1].(map[string]any)
	assert.Equal(t, "NA00002", call[ColCallName])
	assert.Equal(t, []any{int64(1), int64(0)}, call[ColCallGenotype])
	assert.Equal(t, vcf.PhasesetDefault, call[ColCallPhaseset])
	assert.Equal(t, int64(48), call["GQ"])
}

func TestRows_UnmatchedAnnotationsCounted(t *testing.T) {
	fx := loadSmall(t, "CSQ")
	pv, err := fx.processor.Process(fx.variants[4])
	require.NoError(t, err)
	assert.Equal(t, 1, pv.UnmatchedAnnotations)
	assert.Len(t, pv.Alts[0].Info["CSQ"], 1)
	assert.Len(t, pv.Alts[1].Info["CSQ"], 1)
}

func TestRows_OmitEmptySampleCalls(t *testing.T) {
	fx := loadSmall(t, "CSQ")

	rows := fx.rows(t, 3, Options{})
	assert.Len(t, rows[0][ColCalls], 2)

	rows = fx.rows(t, 3, Options{OmitEmptySampleCalls: true})
	calls := rows[0][ColCalls].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "NA00001", calls[0].(map[string]any)[ColCallName])
}

func TestRows_UndeclaredFieldFails(t *testing.T) {
	input := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n1\t5\t.\tC\tT\t.\t.\tNOTE=x\n"
	fx := loadVCF(t, strings.NewReader(input))

	pv, err := fx.processor.Process(fx.variants[0])
	require.NoError(t, err)
	_, err = NewRowGenerator(fx.schema, nil).Rows(pv, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BigQuery schema has no such field: NOTE")
}

func TestRows_IncompatibleValues(t *testing.T) {
	fx := loadSmall(t)
	pv, err := fx.processor.Process(fx.variants[0])
	require.NoError(t, err)
	pv.NonAltInfo["NS"] = 2.5

	gen := NewRowGenerator(fx.schema, nil)
	_, err = gen.Rows(pv, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value and schema do not match for field NS")

	rows, err := gen.Rows(pv, Options{AllowIncompatibleRecords: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows[0]["NS"])
}

func TestRows_SplitsLargeRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n")
	b.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "\tS%03d", i)
	}
	b.WriteString("\n1\t10\t.\tA\tG\t.\t.\t.\tGT")
	for i := 0; i < 120; i++ {
		b.WriteString("\t0/1")
	}
	b.WriteString("\n")

	fx := loadVCF(t, strings.NewReader(b.String()))
	pv, err := fx.processor.Process(fx.variants[0])
	require.NoError(t, err)

	gen := NewRowGenerator(fx.schema, nil)
	rows, err := gen.Rows(pv, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 1, "default limit keeps all calls in one row")

	gen.maxRowBytes = 1000
	rows, err = gen.Rows(pv, Options{})
	require.NoError(t, err)
	require.Greater(t, len(rows), 1)

	total := 0
	for _, row := range rows {
		assert.Equal(t, int64(9), row[ColStartPosition])
		assert.Len(t, row[ColAlternateBases], 1)
		total += len(row[ColCalls].([]any))
	}
	assert.Equal(t, 120, total)
	assert.Equal(t, "S000", rows[0][ColCalls].([]any)[0].(map[string]any)[ColCallName])
}

func TestRows_PETVariantSite(t *testing.T) {
	fx := loadSmall(t)
	rows := fx.rows(t, 0, Options{WriteToPET: true})

	assert.Equal(t, []Row{
		{ColPETPosition: int64(14369), ColPETSample: "NA00001", ColPETState: StateVariant},
		{ColPETPosition: int64(14370), ColPETSample: "NA00001", ColPETState: StateStar},
		{ColPETPosition: int64(14369), ColPETSample: "NA00002", ColPETState: StateVariant},
		{ColPETPosition: int64(14370), ColPETSample: "NA00002", ColPETState: StateStar},
	}, rows)
}

func TestRows_PETReferenceBlock(t *testing.T) {
	input := "##INFO=<ID=END,Number=1,Type=Integer,Description=\"End\">\n" +
		"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n" +
		"##FORMAT=<ID=GQ,Number=1,Type=Integer,Description=\"Genotype Quality\">\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\n" +
		"1\t100\t.\tA\t<NON_REF>\t.\t.\tEND=102\tGT:GQ\t0/0:25\n"
	fx := loadVCF(t, strings.NewReader(input))

	pv, err := fx.processor.Process(fx.variants[0])
	require.NoError(t, err)
	assert.True(t, pv.IsReferenceBlock())

	rows, err := NewRowGenerator(fx.schema, nil).Rows(pv, Options{WriteToPET: true})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i, row := range rows {
		assert.Equal(t, int64(99+i), row[ColPETPosition])
		assert.Equal(t, "20", row[ColPETState])
		assert.Equal(t, "S1", row[ColPETSample])
	}
}

func TestGQBand(t *testing.T) {
	tests := []struct {
		gq   any
		want string
	}{
		{nil, "0"},
		{int64(9), "0"},
		{int64(10), "10"},
		{int64(29), "20"},
		{int64(30), "30"},
		{int64(45), "40"},
		{int64(59), "50"},
		{int64(60), "60"},
		{int64(99), "60"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gqBand(tt.gq), "gq=%v", tt.gq)
	}
}

func TestVariantGenerator_RoundTrip(t *testing.T) {
	fx := loadSmall(t, "CSQ")
	rows := fx.rows(t, 1, Options{})

	parser := fx.processor.Parsers([]string{"CSQ"})[0]
	gen := NewVariantGenerator(map[string][]string{"CSQ": parser.Names})
	v, err := gen.Variant(rows[0])
	require.NoError(t, err)

	orig := fx.variants[1]
	assert.Equal(t, orig.ReferenceName, v.ReferenceName)
	assert.Equal(t, orig.Start, v.Start)
	assert.Equal(t, orig.End, v.End)
	assert.Equal(t, orig.ReferenceBases, v.ReferenceBases)
	assert.Equal(t, orig.AlternateBases, v.AlternateBases)
	assert.Equal(t, orig.Filters, v.Filters)
	assert.Equal(t, *orig.Quality, *v.Quality)
	assert.Equal(t, []any{0.017, 0.5}, v.Info["AF"])
	assert.Equal(t, int64(2), v.Info["NS"])
	assert.Equal(t, []any{
		"A|synonymous_variant|LOW|GENE2|ENST03",
		"G|stop_gained|HIGH|GENE2|ENST03",
	}, v.Info["CSQ"])

	require.Len(t, v.Calls, 2)
	assert.Equal(t, "NA00002", v.Calls[1].Name)
	assert.Equal(t, []int{0, 1}, v.Calls[1].Genotype)
	assert.Empty(t, v.Calls[1].Phaseset)
	assert.Equal(t, int64(3), v.Calls[1].Info["GQ"])
}

func TestVariantGenerator_DecodedJSONRow(t *testing.T) {
	gen := NewVariantGenerator(nil)
	v, err := gen.Variant(Row{
		ColReferenceName:  "chr1",
		ColStartPosition:  float64(10),
		ColEndPosition:    float64(11),
		ColReferenceBases: "A",
		ColAlternateBases: []any{map[string]any{"alt": "T"}},
		ColNames:          []any{},
		"DP":              nil,
		ColCalls: []any{map[string]any{
			"name": "S1", "genotype": []any{float64(0), float64(1)}, "phaseset": nil,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Start)
	assert.Equal(t, []string{"T"}, v.AlternateBases)
	assert.Nil(t, v.Names)
	assert.Nil(t, v.Quality)
	assert.Empty(t, v.Info)
	assert.Equal(t, []int{0, 1}, v.Calls[0].Genotype)

	_, err = gen.Variant(Row{ColStartPosition: "x"})
	require.Error(t, err)
}
