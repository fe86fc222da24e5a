package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/vtharness/internal/canonical"
)

// Snapshot is the deterministic part of a Result. Durations are left out.
type Snapshot struct {
	TestName   string
	Table      string
	Runner     string
	Pass       bool
	Assertions []AssertionResult
	Pipeline   map[string]any
}

// NewSnapshot captures r.
func NewSnapshot(r *Result) *Snapshot {
	s := &Snapshot{
		TestName:   r.TestName,
		Table:      r.Table,
		Runner:     r.Runner,
		Pass:       r.Pass,
		Assertions: r.Assertions,
	}
	if r.Pipeline != nil {
		s.Pipeline = map[string]any{
			"files":                 r.Pipeline.Files,
			"variants":              r.Pipeline.Variants,
			"rows":                  r.Pipeline.Rows,
			"unmatched_annotations": r.Pipeline.UnmatchedAnnotations,
		}
	}
	return s
}

// CanonicalObject converts the snapshot for canonical JSON serialization.
func (s *Snapshot) CanonicalObject() map[string]any {
	assertions := make([]any, len(s.Assertions))
	for i, a := range s.Assertions {
		m := map[string]any{
			"index":    a.Index,
			"query":    a.Query,
			"expected": a.Expected,
			"passed":   a.Passed,
		}
		if a.Actual != nil {
			m["actual"] = a.Actual
		}
		if a.Error != "" {
			m["error"] = a.Error
		}
		assertions[i] = m
	}

	out := map[string]any{
		"test_name":  s.TestName,
		"table":      s.Table,
		"runner":     s.Runner,
		"pass":       s.Pass,
		"assertions": assertions,
	}
	if s.Pipeline != nil {
		out["pipeline"] = s.Pipeline
	}
	return out
}

// Marshal returns the snapshot as indented canonical JSON with a trailing
// newline.
func (s *Snapshot) Marshal() ([]byte, error) {
	raw, err := canonical.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent snapshot: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// AssertGolden compares the result's snapshot against the golden file
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
