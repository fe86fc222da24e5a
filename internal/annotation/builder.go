package annotation

import (
	"fmt"
	"strings"
)

// StrBuilder rebuilds annotation strings from annotation records.
type StrBuilder struct {
	names map[string][]string
}

// NewStrBuilder takes the field names of each annotation id in format order.
func NewStrBuilder(names map[string][]string) *StrBuilder {
	if names == nil {
		names = map[string][]string{}
	}
	return &StrBuilder{names: names}
}

// IsAnnotationID reports whether id is a known annotation field.
func (b *StrBuilder) IsAnnotationID(id string) bool {
	_, ok := b.names[id]
	return ok
}

// Reconstruct joins each record's values in format order with "|".
// Missing values are written as empty strings.
func (b *StrBuilder) Reconstruct(id string, records []Record) ([]string, error) {
	names, ok := b.names[id]
	if !ok {
		return nil, fmt.Errorf("unknown annotation id %s", id)
	}

	out := make([]string, 0, len(records))
	for _, rec := range records {
		parts := make([]string, len(names))
		for i, n := range names {
			if v, ok := rec[n]; ok && v != nil {
				parts[i] = fmt.Sprint(v)
			}
		}
		out = append(out, strings.Join(parts, "|"))
	}
	return out, nil
}
