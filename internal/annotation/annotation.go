// Package annotation parses VEP-style consequence annotations (for example
// the CSQ INFO field) and assigns them to alternate alleles.
package annotation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// AlleleField is the annotation name holding the allele an annotation
// applies to.
const AlleleField = "Allele"

// DeletionAllele is VEP's minimal form of a deleted allele.
const DeletionAllele = "-"

var formatPattern = regexp.MustCompile(`Format:\s*([^"]+)`)

// ErrNoFormat is returned when an INFO description declares no annotation
// format.
var ErrNoFormat = errors.New("description has no annotation format")

// ParseFormat extracts the pipe-separated field names from an INFO
// description such as "Consequence annotations. Format: Allele|Gene|IMPACT".
func ParseFormat(description string) ([]string, error) {
	m := formatPattern.FindStringSubmatch(description)
	if m == nil {
		return nil, ErrNoFormat
	}
	names := strings.Split(strings.TrimSpace(m[1]), "|")
	for i, n := range names {
		names[i] = strings.TrimSpace(n)
	}
	return names, nil
}

// Record is one annotation set: field name to value.
type Record map[string]any

// Result is the outcome of assigning one variant's annotations to its
// alternate alleles.
type Result struct {
	// PerAlt has one slice of records for each alternate allele, in order.
	PerAlt [][]Record
	// Unmatched counts annotations whose allele matched no alternate.
	Unmatched int
}

// Parser splits and assigns the annotations of one INFO field.
type Parser struct {
	ID    string
	Names []string

	alleleIdx int
}

// NewParser builds a parser for the annotation field id, reading the field
// names from its INFO description.
func NewParser(id, description string) (*Parser, error) {
	names, err := ParseFormat(description)
	if err != nil {
		return nil, fmt.Errorf("annotation field %s: %w", id, err)
	}
	p := &Parser{ID: id, Names: names, alleleIdx: -1}
	for i, n := range names {
		if strings.EqualFold(n, AlleleField) {
			p.alleleIdx = i
			break
		}
	}
	if p.alleleIdx < 0 {
		return nil, fmt.Errorf("annotation field %s: format has no %s field", id, AlleleField)
	}
	return p, nil
}

// Parse assigns each raw annotation string to the alternate allele it names.
// An annotation matches an alternate either verbatim or by VEP's minimal
// form, which drops the leading base shared by the reference and every
// alternate and writes an empty result as "-".
func (p *Parser) Parse(ref string, alts []string, raw []string) (*Result, error) {
	res := &Result{PerAlt: make([][]Record, len(alts))}
	minimal := minimalAlleles(ref, alts)

	for _, entry := range raw {
		if entry == "" {
			continue
		}
		values := strings.Split(entry, "|")
		if len(values) != len(p.Names) {
			return nil, fmt.Errorf("annotation %s %q has %d fields, format declares %d",
				p.ID, entry, len(values), len(p.Names))
		}

		rec := make(Record, len(p.Names))
		for i, name := range p.Names {
			rec[name] = values[i]
		}

		idx := matchAllele(values[p.alleleIdx], alts, minimal)
		if idx < 0 {
			res.Unmatched++
			continue
		}
		res.PerAlt[idx] = append(res.PerAlt[idx], rec)
	}
	return res, nil
}

func matchAllele(allele string, alts, minimal []string) int {
	for i, alt := range alts {
		if alt == allele {
			return i
		}
	}
	if minimal == nil {
		return -1
	}
	for i, m := range minimal {
		if m == allele {
			return i
		}
	}
	return -1
}

// minimalAlleles returns the VEP minimal form of each alternate, or nil when
// the alleles do not share a leading base.
func minimalAlleles(ref string, alts []string) []string {
	if ref == "" || len(alts) == 0 {
		return nil
	}
	first := ref[0]
	for _, alt := range alts {
		if alt == "" || isSymbolic(alt) || alt[0] != first {
			return nil
		}
	}
	out := make([]string, len(alts))
	for i, alt := range alts {
		if len(alt) == 1 {
			out[i] = DeletionAllele
		} else {
			out[i] = alt[1:]
		}
	}
	return out
}

func isSymbolic(alt string) bool {
	return strings.HasPrefix(alt, "<") || strings.ContainsAny(alt, "[]*")
}
