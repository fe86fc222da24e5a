// Package vcf reads Variant Call Format files into Variant values.
//
// Only the parts of VCF 4.x the BigQuery transform consumes are handled:
// INFO and FORMAT definitions, the sample list and data records. Values are
// typed from the header definitions; "." becomes nil.
package vcf

import (
	"fmt"
	"strings"
)

// Field types declared in INFO/FORMAT headers.
const (
	TypeInteger   = "Integer"
	TypeFloat     = "Float"
	TypeFlag      = "Flag"
	TypeCharacter = "Character"
	TypeString    = "String"
)

// Special Number values.
const (
	NumberAllele    = "A" // one value per alternate allele
	NumberReference = "R" // one value per allele including the reference
	NumberGenotype  = "G" // one value per genotype
	NumberUnknown   = "."
)

// FieldDef is an INFO or FORMAT definition.
type FieldDef struct {
	ID          string
	Number      string
	Type        string
	Description string
}

// IsList reports whether values of this field are lists.
func (d *FieldDef) IsList() bool {
	return d.Type != TypeFlag && d.Number != "1" && d.Number != "0"
}

// IsPerAllele reports whether the field holds one value per alternate allele.
func (d *FieldDef) IsPerAllele() bool {
	return d.Number == NumberAllele
}

// Header is the parsed meta-information and column header of a VCF file.
type Header struct {
	Infos   map[string]*FieldDef
	Formats map[string]*FieldDef
	Samples []string

	infoOrder   []string
	formatOrder []string
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{
		Infos:   make(map[string]*FieldDef),
		Formats: make(map[string]*FieldDef),
	}
}

// InfoIDs returns INFO IDs in declaration order.
func (h *Header) InfoIDs() []string { return append([]string(nil), h.infoOrder...) }

// FormatIDs returns FORMAT IDs in declaration order.
func (h *Header) FormatIDs() []string { return append([]string(nil), h.formatOrder...) }

// AddInfo declares an INFO field. A redeclaration replaces the definition
// but keeps the original position.
func (h *Header) AddInfo(def *FieldDef) {
	if _, ok := h.Infos[def.ID]; !ok {
		h.infoOrder = append(h.infoOrder, def.ID)
	}
	h.Infos[def.ID] = def
}

// AddFormat declares a FORMAT field.
func (h *Header) AddFormat(def *FieldDef) {
	if _, ok := h.Formats[def.ID]; !ok {
		h.formatOrder = append(h.formatOrder, def.ID)
	}
	h.Formats[def.ID] = def
}

// Merge folds other's definitions into h. Conflicting types for the same ID
// are an error; samples are not merged.
func (h *Header) Merge(other *Header) error {
	for _, id := range other.infoOrder {
		def := other.Infos[id]
		if cur, ok := h.Infos[id]; ok {
			if cur.Type != def.Type {
				return fmt.Errorf("INFO %s declared as %s and %s", id, cur.Type, def.Type)
			}
			continue
		}
		h.AddInfo(def)
	}
	for _, id := range other.formatOrder {
		def := other.Formats[id]
		if cur, ok := h.Formats[id]; ok {
			if cur.Type != def.Type {
				return fmt.Errorf("FORMAT %s declared as %s and %s", id, cur.Type, def.Type)
			}
			continue
		}
		h.AddFormat(def)
	}
	return nil
}

// parseMetaLine handles one "##" line. Lines other than INFO and FORMAT
// definitions are ignored.
func (h *Header) parseMetaLine(line string) error {
	body := strings.TrimPrefix(line, "##")
	key, value, ok := strings.Cut(body, "=")
	if !ok || (key != "INFO" && key != "FORMAT") {
		return nil
	}

	if !strings.HasPrefix(value, "<") || !strings.HasSuffix(value, ">") {
		return fmt.Errorf("malformed %s definition: %s", key, line)
	}
	attrs, err := parseStructuredMeta(value[1 : len(value)-1])
	if err != nil {
		return fmt.Errorf("malformed %s definition: %w", key, err)
	}

	def := &FieldDef{
		ID:          attrs["ID"],
		Number:      attrs["Number"],
		Type:        attrs["Type"],
		Description: attrs["Description"],
	}
	if def.ID == "" {
		return fmt.Errorf("%s definition without ID: %s", key, line)
	}
	if def.Number == "" {
		def.Number = NumberUnknown
	}
	switch def.Type {
	case TypeInteger, TypeFloat, TypeFlag, TypeCharacter, TypeString:
	case "":
		def.Type = TypeString
	default:
		return fmt.Errorf("%s %s has unknown type %q", key, def.ID, def.Type)
	}

	if key == "INFO" {
		h.AddInfo(def)
	} else {
		h.AddFormat(def)
	}
	return nil
}

// parseStructuredMeta splits `ID=DP,Number=1,Description="a, b"` into a map,
// honoring double quotes and backslash escapes inside them.
func parseStructuredMeta(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return nil, fmt.Errorf("expected key=value in %q", s)
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			var b strings.Builder
			i := 1
			closed := false
			for ; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if c == '"' {
					closed = true
					break
				}
				b.WriteByte(c)
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quote for %s", key)
			}
			value = b.String()
			s = s[i+1:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = s[:end]
			s = s[end:]
		}

		attrs[key] = value
		s = strings.TrimPrefix(s, ",")
	}
	return attrs, nil
}
