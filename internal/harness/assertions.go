package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/vtharness/internal/engine"
)

// relativeTolerance bounds the difference of non-integral numbers.
const relativeTolerance = 1e-9

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	TestName string
	Index    int
	Query    string

	// Reason is set when the result could not be compared at all, for
	// example when the query returned several rows.
	Reason string

	Expected map[string]any
	Actual   map[string]any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s[%d]\n", e.TestName, e.Index)
	fmt.Fprintf(&buf, "  Query: %s\n", e.Query)
	if e.Reason != "" {
		fmt.Fprintf(&buf, "  Reason: %s\n", e.Reason)
	}
	fmt.Fprintf(&buf, "  Expected: %s\n", formatRow(e.Expected))
	if e.Actual != nil {
		fmt.Fprintf(&buf, "  Actual: %s\n", formatRow(e.Actual))
	}
	if diff := e.Diff(); diff != "" {
		fmt.Fprintf(&buf, "\nDiff (-expected +actual):\n%s", diff)
	}
	return buf.String()
}

// Diff renders the expected columns against the actual ones. Columns the
// query returned beyond the expected ones are left out.
func (e *AssertionError) Diff() string {
	if e.Actual == nil {
		return ""
	}
	want := make(map[string]string, len(e.Expected))
	got := make(map[string]string, len(e.Expected))
	for k, v := range e.Expected {
		want[k] = formatValue(v)
		if a, ok := e.Actual[k]; ok {
			got[k] = formatValue(a)
		}
	}
	return cmp.Diff(want, got)
}

// CompareRow checks a query result against the expected columns and returns
// the single row by column name.
//
// It returns an *AssertionError (with TestName and Index unset) when the
// result has other than one row or any expected column differs.
func CompareRow(expected map[string]any, rs *engine.ResultSet) (map[string]any, error) {
	if rs == nil || len(rs.Rows) != 1 {
		n := 0
		if rs != nil {
			n = len(rs.Rows)
		}
		return nil, &AssertionError{
			Reason:   fmt.Sprintf("query returned %d rows, want exactly 1", n),
			Expected: expected,
		}
	}

	actual := make(map[string]any, len(rs.Columns))
	for i, col := range rs.Columns {
		if i < len(rs.Rows[0]) {
			actual[col] = rs.Rows[0][i]
		}
	}

	var mismatched []string
	for _, k := range sortedKeys(expected) {
		got, ok := actual[k]
		if !ok {
			mismatched = append(mismatched, fmt.Sprintf("column %s missing from result", k))
			continue
		}
		if !valuesEqual(expected[k], got) {
			mismatched = append(mismatched, fmt.Sprintf("column %s: expected %s, got %s",
				k, formatValue(expected[k]), formatValue(got)))
		}
	}
	if len(mismatched) > 0 {
		return actual, &AssertionError{
			Reason:   strings.Join(mismatched, "; "),
			Expected: expected,
			Actual:   actual,
		}
	}
	return actual, nil
}

// valuesEqual compares an expected fixture value with a value returned by
// an engine.
func valuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if exp, ok := expected.(bool); ok {
		switch act := actual.(type) {
		case bool:
			return exp == act
		case int64:
			// SQLite stores booleans as integers
			return exp == (act != 0)
		}
		return false
	}

	if en, ok := toNumber(expected); ok {
		an, ok := toNumber(actual)
		return ok && numbersEqual(en, an)
	}

	if exp, ok := expected.(string); ok {
		act, ok := actual.(string)
		return ok && exp == act
	}

	return reflect.DeepEqual(expected, actual)
}

// toNumber converts the numeric representations used by fixtures and
// engines to an exact rational. Non-finite floats are not numbers.
func toNumber(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int32:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case uint64:
		return new(big.Rat).SetFrac(new(big.Int).SetUint64(n), big.NewInt(1)), true
	case float32:
		return floatNumber(float64(n))
	case float64:
		return floatNumber(n)
	case json.Number:
		r, ok := new(big.Rat).SetString(string(n))
		return r, ok
	case *big.Rat:
		if n == nil {
			return nil, false
		}
		return n, true
	}
	return nil, false
}

func floatNumber(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(f), true
}

// numbersEqual compares against an integral expectation exactly and
// everything else within relativeTolerance.
func numbersEqual(expected, actual *big.Rat) bool {
	if expected.IsInt() {
		return actual.IsInt() && expected.Cmp(actual) == 0
	}
	af, _ := expected.Float64()
	bf, _ := actual.Float64()
	if af == bf {
		return true
	}
	return math.Abs(af-bf) <= relativeTolerance*math.Max(math.Abs(af), math.Abs(bf))
}

// formatValue renders a value for messages: numbers by value, strings
// quoted.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	if n, ok := toNumber(v); ok {
		if n.IsInt() {
			return n.Num().String()
		}
		f, _ := n.Float64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", v)
}

func formatRow(row map[string]any) string {
	parts := make([]string, 0, len(row))
	for _, k := range sortedKeys(row) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(row[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
