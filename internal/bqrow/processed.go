package bqrow

import (
	"fmt"

	"github.com/roach88/vtharness/internal/annotation"
	"github.com/roach88/vtharness/internal/vcf"
)

// Symbolic alternates that mark a gVCF reference block.
var referenceBlockAlts = map[string]bool{
	"<NON_REF>": true,
	"<*>":       true,
}

// AltData is one alternate allele with the INFO values that belong to it.
type AltData struct {
	Bases string
	// Info holds per-allele INFO values and annotation records
	// ([]annotation.Record) keyed by INFO id.
	Info map[string]any
}

// ProcessedVariant is a variant whose INFO fields are split between the
// alternate alleles and the variant as a whole.
type ProcessedVariant struct {
	*vcf.Variant
	Alts       []*AltData
	NonAltInfo map[string]any
	// AnnotationIDs lists the INFO ids parsed as annotations.
	AnnotationIDs map[string]bool
	// UnmatchedAnnotations counts annotations that named no alternate.
	UnmatchedAnnotations int
}

// IsReferenceBlock reports whether the variant carries no real alternate:
// either none at all or only a gVCF placeholder.
func (p *ProcessedVariant) IsReferenceBlock() bool {
	switch len(p.Alts) {
	case 0:
		return true
	case 1:
		return referenceBlockAlts[p.Alts[0].Bases]
	default:
		return false
	}
}

// Processor splits variants using header definitions and annotation
// parsers.
type Processor struct {
	header  *vcf.Header
	parsers map[string]*annotation.Parser
}

// NewProcessor builds annotation parsers for each of annotationFields from
// their header descriptions.
func NewProcessor(h *vcf.Header, annotationFields []string) (*Processor, error) {
	p := &Processor{header: h, parsers: make(map[string]*annotation.Parser)}
	for _, id := range annotationFields {
		def, ok := h.Infos[id]
		if !ok {
			return nil, fmt.Errorf("annotation field %s is not declared in the header", id)
		}
		parser, err := annotation.NewParser(id, def.Description)
		if err != nil {
			return nil, err
		}
		p.parsers[id] = parser
	}
	return p, nil
}

// Parsers returns the annotation parsers in the order given by ids that
// exist.
func (p *Processor) Parsers(ids []string) []*annotation.Parser {
	out := make([]*annotation.Parser, 0, len(ids))
	for _, id := range ids {
		if parser, ok := p.parsers[id]; ok {
			out = append(out, parser)
		}
	}
	return out
}

// Process splits v's INFO values.
func (p *Processor) Process(v *vcf.Variant) (*ProcessedVariant, error) {
	pv := &ProcessedVariant{
		Variant:       v,
		Alts:          make([]*AltData, len(v.AlternateBases)),
		NonAltInfo:    make(map[string]any),
		AnnotationIDs: make(map[string]bool, len(p.parsers)),
	}
	for i, alt := range v.AlternateBases {
		pv.Alts[i] = &AltData{Bases: alt, Info: make(map[string]any)}
	}

	for key, value := range v.Info {
		if key == infoEnd {
			continue
		}

		if parser, ok := p.parsers[key]; ok {
			pv.AnnotationIDs[key] = true
			res, err := parser.Parse(v.ReferenceBases, v.AlternateBases, toStrings(value))
			if err != nil {
				return nil, err
			}
			for i, recs := range res.PerAlt {
				pv.Alts[i].Info[key] = recs
			}
			pv.UnmatchedAnnotations += res.Unmatched
			continue
		}

		if def, ok := p.header.Infos[key]; ok && def.IsPerAllele() {
			list, _ := value.([]any)
			if len(list) > len(pv.Alts) {
				return nil, fmt.Errorf("INFO %s has %d values for %d alternate alleles",
					key, len(list), len(pv.Alts))
			}
			for i, e := range list {
				pv.Alts[i].Info[key] = e
			}
			continue
		}

		pv.NonAltInfo[key] = value
	}

	for id := range p.parsers {
		pv.AnnotationIDs[id] = true
	}
	return pv, nil
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
