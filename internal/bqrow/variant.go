package bqrow

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/vtharness/internal/annotation"
	"github.com/roach88/vtharness/internal/vcf"
)

var reservedColumns = map[string]bool{
	ColReferenceName:  true,
	ColStartPosition:  true,
	ColEndPosition:    true,
	ColReferenceBases: true,
	ColAlternateBases: true,
	ColNames:          true,
	ColQuality:        true,
	ColFilter:         true,
	ColCalls:          true,
}

var reservedCallColumns = map[string]bool{
	ColCallName:     true,
	ColCallGenotype: true,
	ColCallPhaseset: true,
}

// VariantGenerator converts variant rows back into variants. Rows may come
// straight from a RowGenerator or from decoded JSON.
type VariantGenerator struct {
	builder *annotation.StrBuilder
}

// NewVariantGenerator takes the annotation names of each annotation id in
// format order, so annotation strings can be rebuilt.
func NewVariantGenerator(annotationNames map[string][]string) *VariantGenerator {
	sanitized := make(map[string][]string, len(annotationNames))
	for id, names := range annotationNames {
		cols := make([]string, len(names))
		for i, n := range names {
			cols[i] = SanitizeFieldName(n)
		}
		sanitized[SanitizeFieldName(id)] = cols
	}
	return &VariantGenerator{builder: annotation.NewStrBuilder(sanitized)}
}

// Variant converts one row.
func (g *VariantGenerator) Variant(row Row) (*vcf.Variant, error) {
	start, err := toInt64(row[ColStartPosition])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ColStartPosition, err)
	}
	end, err := toInt64(row[ColEndPosition])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ColEndPosition, err)
	}

	v := &vcf.Variant{
		ReferenceName:  asString(row[ColReferenceName]),
		Start:          start,
		End:            end,
		ReferenceBases: asString(row[ColReferenceBases]),
		Names:          toStringSlice(row[ColNames]),
		Filters:        toStringSlice(row[ColFilter]),
		Info:           make(map[string]any),
	}
	if q, ok := toFloat(row[ColQuality]); ok {
		v.Quality = &q
	}

	for key, value := range row {
		if !reservedColumns[key] && !isNullOrEmpty(value) {
			v.Info[key] = value
		}
	}

	alts, _ := row[ColAlternateBases].([]any)
	for _, a := range alts {
		rec, ok := a.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s entry is %T, want a record", ColAlternateBases, a)
		}
		v.AlternateBases = append(v.AlternateBases, asString(rec[ColAlt]))

		for key, value := range rec {
			if key == ColAlt || isNullOrEmpty(value) {
				continue
			}
			list, _ := v.Info[key].([]any)
			if g.builder.IsAnnotationID(key) {
				strs, err := g.builder.Reconstruct(key, toRecords(value))
				if err != nil {
					return nil, err
				}
				for _, s := range strs {
					list = append(list, s)
				}
			} else {
				list = append(list, value)
			}
			v.Info[key] = list
		}
	}

	calls, _ := row[ColCalls].([]any)
	for _, c := range calls {
		rec, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s entry is %T, want a record", ColCalls, c)
		}
		call, err := variantCall(rec)
		if err != nil {
			return nil, err
		}
		v.Calls = append(v.Calls, call)
	}
	return v, nil
}

func variantCall(rec map[string]any) (*vcf.Call, error) {
	call := &vcf.Call{
		Name:     asString(rec[ColCallName]),
		Phaseset: asString(rec[ColCallPhaseset]),
		Info:     make(map[string]any),
	}
	gts, _ := rec[ColCallGenotype].([]any)
	for _, gt := range gts {
		n, err := toInt64(gt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ColCallGenotype, err)
		}
		call.Genotype = append(call.Genotype, int(n))
	}
	for key, value := range rec {
		if !reservedCallColumns[key] && !isNullOrEmpty(value) {
			call.Info[key] = value
		}
	}
	return call, nil
}

func isNullOrEmpty(v any) bool {
	if v == nil {
		return true
	}
	if list, ok := v.([]any); ok && len(list) == 0 {
		return true
	}
	return false
}

func toRecords(v any) []annotation.Record {
	list, _ := v.([]any)
	out := make([]annotation.Record, 0, len(list))
	for _, e := range list {
		switch rec := e.(type) {
		case map[string]any:
			out = append(out, annotation.Record(rec))
		case annotation.Record:
			out = append(out, rec)
		}
	}
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toStringSlice(v any) []string {
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, asString(e))
	}
	return out
}
