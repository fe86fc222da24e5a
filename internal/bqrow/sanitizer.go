package bqrow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultNullNumericReplacement stands in for missing entries of numeric
// lists, since BigQuery rejects nulls inside repeated columns.
const DefaultNullNumericReplacement = math.MinInt32

const fallbackFieldPrefix = "field_"

// SanitizeFieldName maps a VCF field name to a legal BigQuery column name:
// characters other than letters, digits and underscore become "_", and a name
// not starting with a letter or underscore gets the "field_" prefix.
func SanitizeFieldName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || !(out[0] == '_' || out[0] >= 'a' && out[0] <= 'z' || out[0] >= 'A' && out[0] <= 'Z') {
		out = fallbackFieldPrefix + out
	}
	return out
}

// FieldSanitizer cleans field values before they are written.
type FieldSanitizer struct {
	NullNumericReplacement int64
}

// NewFieldSanitizer returns a sanitizer with the default null replacement.
func NewFieldSanitizer() *FieldSanitizer {
	return &FieldSanitizer{NullNumericReplacement: DefaultNullNumericReplacement}
}

// Sanitize fixes up a value: strings lose invalid UTF-8, nil entries in
// lists are replaced (numeric lists by NullNumericReplacement, string lists by
// ".", bool lists by false).
func (s *FieldSanitizer) Sanitize(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ToValidUTF8(val, "")
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = strings.ToValidUTF8(e, "")
		}
		return out
	case []any:
		return s.sanitizeList(val)
	default:
		return v
	}
}

func (s *FieldSanitizer) sanitizeList(list []any) []any {
	var kind string
	for _, e := range list {
		switch e.(type) {
		case int64, int, float64:
			kind = "number"
		case string:
			kind = "string"
		case bool:
			kind = "bool"
		}
		if kind != "" {
			break
		}
	}

	out := make([]any, len(list))
	for i, e := range list {
		switch val := e.(type) {
		case nil:
			switch kind {
			case "number":
				out[i] = s.nullNumber(list)
			case "bool":
				out[i] = false
			default:
				out[i] = "."
			}
		case string:
			out[i] = strings.ToValidUTF8(val, "")
		default:
			out[i] = e
		}
	}
	return out
}

func (s *FieldSanitizer) nullNumber(list []any) any {
	for _, e := range list {
		if _, ok := e.(float64); ok {
			return float64(s.NullNumericReplacement)
		}
	}
	return s.NullNumericReplacement
}

// Resolve coerces value to the column's type and mode. It returns the
// coerced value and whether it equals the input.
func Resolve(f *Field, value any) (any, bool) {
	if value == nil {
		return nil, true
	}

	list, isList := value.([]any)
	if f.Repeated() {
		if !isList {
			out, _ := castScalar(f.Type, value)
			return []any{out}, false
		}
		out := make([]any, len(list))
		same := true
		for i, e := range list {
			var ok bool
			out[i], ok = castScalar(f.Type, e)
			same = same && ok
		}
		return out, same
	}

	if isList {
		if len(list) == 0 {
			return nil, false
		}
		out, _ := castScalar(f.Type, list[0])
		return out, false
	}
	return castScalar(f.Type, value)
}

// castScalar converts one value to typ, reporting whether it already had
// that type.
func castScalar(typ FieldType, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch typ {
	case TypeInteger:
		switch n := v.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case float64:
			return int64(n), false
		case bool:
			if n {
				return int64(1), false
			}
			return int64(0), false
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i, false
			}
			return nil, false
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, true
		case int64:
			return float64(n), false
		case int:
			return float64(n), false
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, false
			}
			return nil, false
		}
	case TypeBoolean:
		switch n := v.(type) {
		case bool:
			return n, true
		case string:
			if b, err := strconv.ParseBool(n); err == nil {
				return b, false
			}
			return nil, false
		default:
			return v != nil, false
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, true
		}
		return fmt.Sprint(v), false
	}
	return v, true
}
