// Package bqrow converts variants to BigQuery rows and back.
//
// A variant becomes one or more rows in the variants table, or a set of
// position rows in the position-expanded table (PET) when requested.
package bqrow

import (
	"fmt"

	"github.com/roach88/vtharness/internal/annotation"
	"github.com/roach88/vtharness/internal/vcf"
)

// Reserved column names.
const (
	ColReferenceName  = "reference_name"
	ColStartPosition  = "start_position"
	ColEndPosition    = "end_position"
	ColReferenceBases = "reference_bases"
	ColAlternateBases = "alternate_bases"
	ColAlt            = "alt"
	ColNames          = "names"
	ColQuality        = "quality"
	ColFilter         = "filter"
	ColCalls          = "call"
	ColCallName       = "name"
	ColCallGenotype   = "genotype"
	ColCallPhaseset   = "phaseset"

	ColPETPosition = "position"
	ColPETSample   = "sample"
	ColPETState    = "state"
)

// infoEnd is consumed into end_position and never stored as a column.
const infoEnd = "END"

// FieldType is a BigQuery column type.
type FieldType string

const (
	TypeString  FieldType = "STRING"
	TypeInteger FieldType = "INTEGER"
	TypeFloat   FieldType = "FLOAT"
	TypeBoolean FieldType = "BOOLEAN"
	TypeRecord  FieldType = "RECORD"
)

// Mode is a BigQuery column mode.
type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRepeated Mode = "REPEATED"
)

// Field is one column, possibly a record with nested fields.
type Field struct {
	Name        string
	Type        FieldType
	Mode        Mode
	Description string
	Fields      []*Field
}

// Repeated reports whether the column holds a list.
func (f *Field) Repeated() bool { return f.Mode == ModeRepeated }

// Schema is an ordered list of columns.
type Schema struct {
	Fields []*Field
}

// Field returns the column with the given name, or nil.
func (s *Schema) Field(name string) *Field {
	return lookup(s.Fields, name)
}

// Record returns the nested fields of a record column as a schema.
func (s *Schema) Record(name string) *Schema {
	f := s.Field(name)
	if f == nil || f.Type != TypeRecord {
		return nil
	}
	return &Schema{Fields: f.Fields}
}

// Names returns top-level column names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

func lookup(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// SchemaFromHeader builds the variants table schema. Annotation fields become
// repeated records inside alternate_bases; Number=A INFO fields become
// per-allele columns there; the remaining INFO fields are top-level columns.
func SchemaFromHeader(h *vcf.Header, parsers []*annotation.Parser) (*Schema, error) {
	annotated := make(map[string]*annotation.Parser, len(parsers))
	for _, p := range parsers {
		annotated[p.ID] = p
	}

	alt := &Field{
		Name:        ColAlternateBases,
		Type:        TypeRecord,
		Mode:        ModeRepeated,
		Description: "One record for each alternate base (if any).",
		Fields: []*Field{
			{Name: ColAlt, Type: TypeString, Mode: ModeNullable, Description: "Alternate base."},
		},
	}

	var infoFields []*Field
	for _, id := range h.InfoIDs() {
		if id == infoEnd {
			continue
		}
		def := h.Infos[id]

		if p, ok := annotated[id]; ok {
			rec := &Field{
				Name:        SanitizeFieldName(id),
				Type:        TypeRecord,
				Mode:        ModeRepeated,
				Description: def.Description,
			}
			for _, n := range p.Names {
				rec.Fields = append(rec.Fields, &Field{
					Name: SanitizeFieldName(n),
					Type: TypeString,
					Mode: ModeNullable,
				})
			}
			alt.Fields = append(alt.Fields, rec)
			continue
		}

		if def.IsPerAllele() {
			alt.Fields = append(alt.Fields, &Field{
				Name:        SanitizeFieldName(id),
				Type:        fieldType(def.Type),
				Mode:        ModeNullable,
				Description: def.Description,
			})
			continue
		}

		infoFields = append(infoFields, infoField(def))
	}

	for id := range annotated {
		if _, ok := h.Infos[id]; !ok {
			return nil, fmt.Errorf("annotation field %s is not declared in the header", id)
		}
	}

	calls := &Field{
		Name:        ColCalls,
		Type:        TypeRecord,
		Mode:        ModeRepeated,
		Description: "One record for each call.",
		Fields: []*Field{
			{Name: ColCallName, Type: TypeString, Mode: ModeNullable, Description: "Name of the call."},
			{Name: ColCallGenotype, Type: TypeInteger, Mode: ModeRepeated, Description: "Genotype of the call. \"-1\" is used in cases where the genotype is not called."},
			{Name: ColCallPhaseset, Type: TypeString, Mode: ModeNullable, Description: "Phaseset of the call (if any)."},
		},
	}
	for _, id := range h.FormatIDs() {
		if id == "GT" || id == "PS" {
			continue
		}
		calls.Fields = append(calls.Fields, infoField(h.Formats[id]))
	}

	fields := []*Field{
		{Name: ColReferenceName, Type: TypeString, Mode: ModeNullable, Description: "Reference name."},
		{Name: ColStartPosition, Type: TypeInteger, Mode: ModeNullable, Description: "Start position (0-based). Corresponds to the first base of the string of reference bases."},
		{Name: ColEndPosition, Type: TypeInteger, Mode: ModeNullable, Description: "End position (0-based). Corresponds to the first base after the last base in the reference allele."},
		{Name: ColReferenceBases, Type: TypeString, Mode: ModeNullable, Description: "Reference bases."},
		alt,
		{Name: ColNames, Type: TypeString, Mode: ModeRepeated, Description: "Variant names (e.g. RefSNP ID)."},
		{Name: ColQuality, Type: TypeFloat, Mode: ModeNullable, Description: "Phred-scaled quality score (-10log10 prob(call is wrong))."},
		{Name: ColFilter, Type: TypeString, Mode: ModeRepeated, Description: "List of failed filters (if any) or \"PASS\" indicating the variant has passed all filters."},
		calls,
	}
	fields = append(fields, infoFields...)
	return &Schema{Fields: fields}, nil
}

// PETSchema is the schema of the position-expanded table.
func PETSchema() *Schema {
	return &Schema{Fields: []*Field{
		{Name: ColPETPosition, Type: TypeInteger, Mode: ModeNullable},
		{Name: ColPETSample, Type: TypeString, Mode: ModeNullable},
		{Name: ColPETState, Type: TypeString, Mode: ModeNullable},
	}}
}

func infoField(def *vcf.FieldDef) *Field {
	mode := ModeNullable
	if def.IsList() {
		mode = ModeRepeated
	}
	return &Field{
		Name:        SanitizeFieldName(def.ID),
		Type:        fieldType(def.Type),
		Mode:        mode,
		Description: def.Description,
	}
}

func fieldType(vcfType string) FieldType {
	switch vcfType {
	case vcf.TypeInteger:
		return TypeInteger
	case vcf.TypeFloat:
		return TypeFloat
	case vcf.TypeFlag:
		return TypeBoolean
	default:
		return TypeString
	}
}
