package vcf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MissingGenotype marks a "." allele in a genotype.
const MissingGenotype = -1

// PhasesetDefault is the phaseset of a phased call without a PS field.
const PhasesetDefault = "*"

// maxLineBytes bounds a single VCF line; wide cohorts produce long records.
const maxLineBytes = 256 * 1024 * 1024

// Variant is one VCF data record.
type Variant struct {
	ReferenceName  string
	Start          int64 // 0-based, inclusive
	End            int64 // 0-based, exclusive
	ReferenceBases string
	AlternateBases []string
	Names          []string
	Quality        *float64
	Filters        []string
	Info           map[string]any
	Calls          []*Call
}

// Call is one sample's data for a variant.
type Call struct {
	Name     string
	Genotype []int
	Phaseset string // empty when unphased
	Info     map[string]any
}

// Reader reads variants from a VCF stream.
type Reader struct {
	scanner *bufio.Scanner
	header  *Header
	line    int
	pending string
}

// NewReader consumes the header of r and returns a Reader positioned at the
// first data record.
func NewReader(r io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	rd := &Reader{scanner: scanner, header: NewHeader()}
	if err := rd.readHeader(); err != nil {
		return nil, err
	}
	return rd, nil
}

// Header returns the parsed header.
func (r *Reader) Header() *Header {
	return r.header
}

func (r *Reader) readHeader() error {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "##"):
			if err := r.header.parseMetaLine(line); err != nil {
				return fmt.Errorf("line %d: %w", r.line, err)
			}
		case strings.HasPrefix(line, "#CHROM"):
			cols := strings.Split(line, "\t")
			if len(cols) < 8 {
				return fmt.Errorf("line %d: column header has %d columns, want at least 8", r.line, len(cols))
			}
			if len(cols) > 9 {
				r.header.Samples = append([]string(nil), cols[9:]...)
			}
			return nil
		case line == "":
			continue
		default:
			// Headerless input: keep the line for the first Read.
			r.pending = line
			return nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	return nil
}

// Read returns the next variant, or io.EOF when the input is exhausted.
func (r *Reader) Read() (*Variant, error) {
	for {
		var line string
		if r.pending != "" {
			line, r.pending = r.pending, ""
		} else {
			if !r.scanner.Scan() {
				if err := r.scanner.Err(); err != nil {
					return nil, fmt.Errorf("line %d: %w", r.line+1, err)
				}
				return nil, io.EOF
			}
			r.line++
			line = strings.TrimRight(r.scanner.Text(), "\r")
		}

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		v, err := r.parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return v, nil
	}
}

func (r *Reader) parseRecord(line string) (*Variant, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 8 {
		return nil, fmt.Errorf("record has %d columns, want at least 8", len(cols))
	}

	pos, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil || pos < 1 {
		return nil, fmt.Errorf("invalid POS %q", cols[1])
	}

	v := &Variant{
		ReferenceName:  cols[0],
		Start:          pos - 1,
		ReferenceBases: cols[3],
		Info:           make(map[string]any),
	}
	if v.ReferenceBases == "." {
		v.ReferenceBases = ""
	}
	v.End = v.Start + int64(len(v.ReferenceBases))

	if cols[2] != "." && cols[2] != "" {
		v.Names = strings.Split(cols[2], ";")
	}
	if cols[4] != "." && cols[4] != "" {
		v.AlternateBases = strings.Split(cols[4], ",")
	}
	if cols[5] != "." && cols[5] != "" {
		q, err := strconv.ParseFloat(cols[5], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid QUAL %q", cols[5])
		}
		v.Quality = &q
	}
	if cols[6] != "." && cols[6] != "" {
		v.Filters = strings.Split(cols[6], ";")
	}

	if err := r.parseInfo(v, cols[7]); err != nil {
		return nil, err
	}

	if len(cols) > 9 {
		calls, err := r.parseCalls(cols[8], cols[9:])
		if err != nil {
			return nil, err
		}
		v.Calls = calls
	}

	return v, nil
}

func (r *Reader) parseInfo(v *Variant, raw string) error {
	if raw == "." || raw == "" {
		return nil
	}

	for _, entry := range strings.Split(raw, ";") {
		if entry == "" {
			continue
		}
		key, value, hasValue := strings.Cut(entry, "=")

		def, ok := r.header.Infos[key]
		if !ok {
			def = undeclared(key, hasValue)
		}

		if def.Type == TypeFlag {
			v.Info[key] = true
			continue
		}

		parsed, err := parseValue(def, value)
		if err != nil {
			return fmt.Errorf("INFO %s: %w", key, err)
		}
		v.Info[key] = parsed

		if key == "END" {
			if end, ok := parsed.(int64); ok {
				v.End = end
			}
		}
	}
	return nil
}

func (r *Reader) parseCalls(format string, samples []string) ([]*Call, error) {
	keys := strings.Split(format, ":")
	calls := make([]*Call, 0, len(samples))

	for i, sample := range samples {
		name := fmt.Sprintf("sample_%d", i)
		if i < len(r.header.Samples) {
			name = r.header.Samples[i]
		}

		call := &Call{Name: name, Info: make(map[string]any)}
		values := strings.Split(sample, ":")
		phased := false

		for j, key := range keys {
			value := "."
			if j < len(values) {
				value = values[j]
			}

			switch key {
			case "GT":
				gt, isPhased, err := parseGenotype(value)
				if err != nil {
					return nil, fmt.Errorf("sample %s: %w", name, err)
				}
				call.Genotype = gt
				phased = isPhased
				continue
			case "PS":
				if value != "." && value != "" {
					call.Phaseset = value
				}
				continue
			}

			def, ok := r.header.Formats[key]
			if !ok {
				def = undeclared(key, true)
			}
			parsed, err := parseValue(def, value)
			if err != nil {
				return nil, fmt.Errorf("sample %s FORMAT %s: %w", name, key, err)
			}
			if parsed != nil {
				call.Info[key] = parsed
			}
		}

		if phased && call.Phaseset == "" {
			call.Phaseset = PhasesetDefault
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// parseGenotype parses "0/1", "1|0", "./." or ".". Haploid calls are
// single-element genotypes.
func parseGenotype(raw string) ([]int, bool, error) {
	if raw == "" || raw == "." {
		return []int{MissingGenotype}, false, nil
	}

	phased := strings.Contains(raw, "|")
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '|' })
	gt := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "." {
			gt = append(gt, MissingGenotype)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false, fmt.Errorf("invalid genotype %q", raw)
		}
		gt = append(gt, n)
	}
	return gt, phased, nil
}

// undeclared returns the definition assumed for a field missing from the
// header: a flag without value, otherwise an unbounded string list.
func undeclared(id string, hasValue bool) *FieldDef {
	if !hasValue {
		return &FieldDef{ID: id, Number: "0", Type: TypeFlag}
	}
	return &FieldDef{ID: id, Number: NumberUnknown, Type: TypeString}
}

// parseValue converts a raw INFO/FORMAT value according to def.
// Scalars return nil for "."; lists return []any with nil entries.
func parseValue(def *FieldDef, raw string) (any, error) {
	if def.Type == TypeFlag {
		return true, nil
	}

	if !def.IsList() {
		return parseScalar(def.Type, raw)
	}

	if raw == "." || raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	list := make([]any, len(parts))
	for i, p := range parts {
		val, err := parseScalar(def.Type, p)
		if err != nil {
			return nil, err
		}
		list[i] = val
	}
	return list, nil
}

func parseScalar(typ, raw string) (any, error) {
	if raw == "." || raw == "" {
		return nil, nil
	}
	switch typ {
	case TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}
