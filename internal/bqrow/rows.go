package bqrow

import (
	"fmt"
	"sort"

	"github.com/roach88/vtharness/internal/annotation"
	"github.com/roach88/vtharness/internal/canonical"
	"github.com/roach88/vtharness/internal/vcf"
)

// Row is one table row keyed by column name.
type Row map[string]any

const (
	// MaxRowSizeBytes is kept below BigQuery's 100MB row limit because the
	// estimate comes from sampling.
	MaxRowSizeBytes = 90 * 1024 * 1024
	// numCallSamples is how many calls the size estimate samples.
	numCallSamples = 5
	// minCallsForSizeEstimate is the call count below which rows are never
	// split.
	minCallsForSizeEstimate = 100
)

// PET states.
const (
	StateVariant = "v"
	StateStar    = "s"
	StateMissing = "n"
)

// Options controls row generation.
type Options struct {
	// AllowIncompatibleRecords casts values that do not match the schema
	// instead of failing.
	AllowIncompatibleRecords bool
	// OmitEmptySampleCalls drops calls with no called genotype and no data.
	OmitEmptySampleCalls bool
	// WriteToPET emits position-expanded rows instead of variant rows.
	WriteToPET bool
}

// RowGenerator turns processed variants into rows for a schema.
type RowGenerator struct {
	schema    *Schema
	sanitizer *FieldSanitizer

	// maxRowBytes overrides MaxRowSizeBytes in tests.
	maxRowBytes int
}

// NewRowGenerator returns a generator for schema. A nil sanitizer uses the
// defaults.
func NewRowGenerator(schema *Schema, sanitizer *FieldSanitizer) *RowGenerator {
	if sanitizer == nil {
		sanitizer = NewFieldSanitizer()
	}
	return &RowGenerator{schema: schema, sanitizer: sanitizer, maxRowBytes: MaxRowSizeBytes}
}

// Rows returns the rows for v. Variant rows may be split so that each stays
// under the row size limit; every split row repeats the non-call columns.
func (g *RowGenerator) Rows(v *ProcessedVariant, opts Options) ([]Row, error) {
	if opts.WriteToPET {
		return g.petRows(v), nil
	}

	base, err := g.baseRow(v, opts.AllowIncompatibleRecords)
	if err != nil {
		return nil, err
	}

	callSchema := g.schema.Record(ColCalls)
	if callSchema == nil {
		return nil, fmt.Errorf("schema has no %s record", ColCalls)
	}

	limit, err := g.callLimitPerRow(v, callSchema)
	if err != nil {
		return nil, err
	}

	var rows []Row
	row := cloneRow(base)
	var calls []any
	for _, call := range v.Calls {
		rec, empty, err := g.callRecord(call, callSchema, opts.AllowIncompatibleRecords)
		if err != nil {
			return nil, err
		}
		if opts.OmitEmptySampleCalls && empty {
			continue
		}
		if len(calls) == limit {
			row[ColCalls] = calls
			rows = append(rows, row)
			row = cloneRow(base)
			calls = nil
		}
		calls = append(calls, rec)
	}
	if calls == nil {
		calls = []any{}
	}
	row[ColCalls] = calls
	return append(rows, row), nil
}

func (g *RowGenerator) baseRow(v *ProcessedVariant, allowIncompatible bool) (Row, error) {
	row := Row{
		ColReferenceName:  v.ReferenceName,
		ColStartPosition:  v.Start,
		ColEndPosition:    v.End,
		ColReferenceBases: v.ReferenceBases,
	}
	if len(v.Names) > 0 {
		row[ColNames] = g.sanitizer.Sanitize(v.Names)
	}
	if v.Quality != nil {
		row[ColQuality] = *v.Quality
	}
	if len(v.Filters) > 0 {
		row[ColFilter] = g.sanitizer.Sanitize(v.Filters)
	}

	alts := make([]any, 0, len(v.Alts))
	for _, alt := range v.Alts {
		rec := map[string]any{ColAlt: alt.Bases}
		for key, data := range alt.Info {
			name := SanitizeFieldName(key)
			if v.AnnotationIDs[key] {
				rec[name] = annotationRecords(data)
				continue
			}
			rec[name] = g.sanitizer.Sanitize(data)
		}
		alts = append(alts, rec)
	}
	row[ColAlternateBases] = alts

	for key, data := range v.NonAltInfo {
		name, value, err := g.fieldEntry(key, data, g.schema, allowIncompatible)
		if err != nil {
			return nil, err
		}
		if name != "" {
			row[name] = value
		}
	}
	return row, nil
}

// fieldEntry sanitizes one INFO/FORMAT value and checks it against schema.
func (g *RowGenerator) fieldEntry(key string, data any, schema *Schema, allowIncompatible bool) (string, any, error) {
	if data == nil {
		return "", nil, nil
	}
	name := SanitizeFieldName(key)
	field := schema.Field(name)
	if field == nil || field.Type == TypeRecord {
		return "", nil, fmt.Errorf("BigQuery schema has no such field: %s; "+
			"the field is not defined in the VCF headers", name)
	}

	sanitized := g.sanitizer.Sanitize(data)
	resolved, compatible := Resolve(field, sanitized)
	if !compatible && !allowIncompatible {
		return "", nil, fmt.Errorf("value and schema do not match for field %s: value %v, schema %s %s",
			name, sanitized, field.Mode, field.Type)
	}
	return name, resolved, nil
}

func (g *RowGenerator) callRecord(call *vcf.Call, schema *Schema, allowIncompatible bool) (map[string]any, bool, error) {
	genotype := make([]any, len(call.Genotype))
	empty := true
	for i, gt := range call.Genotype {
		genotype[i] = int64(gt)
		if gt != vcf.MissingGenotype {
			empty = false
		}
	}

	rec := map[string]any{
		ColCallName:     g.sanitizer.Sanitize(call.Name),
		ColCallGenotype: genotype,
		ColCallPhaseset: nil,
	}
	if call.Phaseset != "" {
		rec[ColCallPhaseset] = call.Phaseset
	}

	for key, data := range call.Info {
		if data == nil {
			continue
		}
		name, value, err := g.fieldEntry(key, data, schema, allowIncompatible)
		if err != nil {
			return nil, false, err
		}
		rec[name] = value
		empty = empty && isEmptyField(value)
	}
	return rec, empty, nil
}

func isEmptyField(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == "" || val == "."
	case []any:
		if len(val) == 0 {
			return true
		}
		return len(val) == 1 && (val[0] == nil || val[0] == ".")
	default:
		return false
	}
}

// callLimitPerRow estimates how many calls fit under the row size limit by
// sampling call sizes.
func (g *RowGenerator) callLimitPerRow(v *ProcessedVariant, callSchema *Schema) (int, error) {
	n := len(v.Calls)
	if n < minCallsForSizeEstimate {
		return max(n, 1), nil
	}

	step := n / numCallSamples
	var total, sampled int
	for i := 0; i < n; i += step {
		rec, _, err := g.callRecord(v.Calls[i], callSchema, true)
		if err != nil {
			return 0, err
		}
		b, err := canonical.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("estimate call size: %w", err)
		}
		total += len(b)
		sampled++
	}
	avg := total / sampled
	if avg == 0 || avg*n <= g.maxRowBytes {
		return n, nil
	}
	return max(g.maxRowBytes/avg, 1), nil
}

// petRows expands v into one row per (sample, position). Variant sites
// emit "v" at the start and "s" for the rest of the block; reference blocks
// emit the call's GQ band at every position.
func (g *RowGenerator) petRows(v *ProcessedVariant) []Row {
	var rows []Row
	blockSize := v.End - v.Start + 1

	for _, call := range v.Calls {
		sample := call.Name
		if v.IsReferenceBlock() {
			state := gqBand(call.Info["GQ"])
			for offset := int64(0); offset < blockSize; offset++ {
				rows = append(rows, petRow(v.Start+offset, sample, state))
			}
			continue
		}

		rows = append(rows, petRow(v.Start, sample, StateVariant))
		for offset := int64(1); offset < blockSize; offset++ {
			rows = append(rows, petRow(v.Start+offset, sample, StateStar))
		}
	}
	return rows
}

func petRow(position int64, sample, state string) Row {
	return Row{ColPETPosition: position, ColPETSample: sample, ColPETState: state}
}

// gqBand buckets a genotype quality into "0", "10", ..., "60". A missing GQ
// falls in the lowest band.
func gqBand(gq any) string {
	var q int64
	switch n := gq.(type) {
	case int64:
		q = n
	case float64:
		q = int64(n)
	}
	switch {
	case q < 10:
		return "0"
	case q < 20:
		return "10"
	case q < 30:
		return "20"
	case q < 40:
		return "30"
	case q < 50:
		return "40"
	case q < 60:
		return "50"
	default:
		return "60"
	}
}

func annotationRecords(data any) []any {
	recs, _ := data.([]annotation.Record)
	out := make([]any, len(recs))
	for i, rec := range recs {
		m := make(map[string]any, len(rec))
		for k, val := range rec {
			m[SanitizeFieldName(k)] = val
		}
		out[i] = m
	}
	return out
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortedKeys returns the keys of r in order.
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CanonicalObject lets rows be encoded as canonical JSON.
func (r Row) CanonicalObject() map[string]any { return r }
