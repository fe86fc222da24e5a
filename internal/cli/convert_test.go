package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vtutil "github.com/roach88/vtharness/internal/testutil"
)

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var objs []map[string]any
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &obj), "line %q", line)
		objs = append(objs, obj)
	}
	return objs
}

func TestConvertRows(t *testing.T) {
	out, _, err := execute(t, "convert", vtutil.SmallVCFPath(), "--annotation-fields", "CSQ")
	require.NoError(t, err)

	rows := decodeLines(t, out)
	require.Len(t, rows, 5)

	first := rows[0]
	assert.Equal(t, "20", first["reference_name"])
	assert.Equal(t, float64(14369), first["start_position"])
	assert.Equal(t, float64(14370), first["end_position"])
	assert.Equal(t, []any{"rs6054257"}, first["names"])

	alts, ok := first["alternate_bases"].([]any)
	require.True(t, ok)
	require.Len(t, alts, 1)
	alt := alts[0].(map[string]any)
	assert.Equal(t, "A", alt["alt"])
	assert.Len(t, alt["CSQ"], 2)

	calls, ok := first["call"].([]any)
	require.True(t, ok)
	assert.Len(t, calls, 2)
}

func TestConvertWithoutAnnotations(t *testing.T) {
	out, _, err := execute(t, "convert", vtutil.SmallVCFPath())
	require.NoError(t, err)

	rows := decodeLines(t, out)
	require.Len(t, rows, 5)
	csq, ok := rows[0]["CSQ"].([]any)
	require.True(t, ok, "CSQ stays a plain INFO column")
	assert.Equal(t, "A|missense_variant|MODERATE|GENE1|ENST01", csq[0])
}

func TestConvertPET(t *testing.T) {
	out, _, err := execute(t, "convert", vtutil.SmallVCFPath(), "--pet")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, `{"position":14369,"sample":"NA00001","state":"v"}`, lines[0])
	for _, row := range decodeLines(t, out) {
		assert.Contains(t, []any{"v", "s", "0", "10", "20", "30", "40", "50", "60"}, row["state"])
	}
}

func TestConvertReverse(t *testing.T) {
	out, _, err := execute(t, "convert", vtutil.SmallVCFPath(), "--annotation-fields", "CSQ", "--reverse")
	require.NoError(t, err)

	variants := decodeLines(t, out)
	require.Len(t, variants, 5)

	first := variants[0]
	assert.Equal(t, "20", first["reference_name"])
	assert.Equal(t, float64(14369), first["start"])
	assert.Equal(t, []any{"A"}, first["alternate_bases"])

	info, ok := first["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{
		"A|missense_variant|MODERATE|GENE1|ENST01",
		"A|intron_variant|MODIFIER|GENE1|ENST02",
	}, info["CSQ"])

	calls := first["calls"].([]any)
	require.Len(t, calls, 2)
	call := calls[1].(map[string]any)
	assert.Equal(t, "NA00002", call["name"])
	assert.Equal(t, []any{float64(1), float64(0)}, call["genotype"])
}

func TestConvertReverseRejectsPET(t *testing.T) {
	_, _, err := execute(t, "convert", vtutil.SmallVCFPath(), "--pet", "--reverse")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConvertNoInput(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"missing file", "/nonexistent/*.vcf"},
		{"remote", "gs://bucket/input.vcf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "convert", tt.pattern)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestConvertUnknownAnnotationField(t *testing.T) {
	_, errOut, err := execute(t, "convert", vtutil.SmallVCFPath(), "--annotation-fields", "ANN")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, errOut, "annotation field ANN is not declared in the header")
}
