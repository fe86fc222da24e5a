package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/roach88/vtharness/internal/testcase"
)

// SmallVCFPath returns the absolute path of the shared five-record VCF.
func SmallVCFPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "vcf", "testdata", "small.vcf")
}

// Expected values for SmallVCFPath loaded with CSQ annotations.
var SmallVCFStats = map[string]int64{
	"num_rows":            5,
	"sum_start":           3607195,
	"sum_end":             3607202,
	"num_annotation_sets": 7,
	"hash_sum":            3643223,
	"num_features":        5,
	"num_symbol":          4,
}

// CaseBuilder assembles a test case for tests.
type CaseBuilder struct {
	tc testcase.TestCase
}

// NewCase starts a local-runner case named name over the small VCF.
func NewCase(name string) *CaseBuilder {
	return &CaseBuilder{tc: testcase.TestCase{
		TestName:         name,
		TableName:        "small",
		InputPattern:     SmallVCFPath(),
		AnnotationFields: "CSQ",
		Runner:           testcase.DirectRunner,
	}}
}

func (b *CaseBuilder) Table(name string) *CaseBuilder {
	b.tc.TableName = name
	return b
}

func (b *CaseBuilder) Input(pattern string) *CaseBuilder {
	b.tc.InputPattern = pattern
	return b
}

func (b *CaseBuilder) Annotations(field string) *CaseBuilder {
	b.tc.AnnotationFields = field
	return b
}

func (b *CaseBuilder) Runner(runner string) *CaseBuilder {
	b.tc.Runner = runner
	return b
}

// Expect appends an assertion with one expected column.
func (b *CaseBuilder) Expect(column string, value any, fragments ...string) *CaseBuilder {
	b.tc.AssertionConfigs = append(b.tc.AssertionConfigs, testcase.Assertion{
		Query:          fragments,
		ExpectedResult: map[string]any{column: value},
	})
	return b
}

// Build returns a copy of the case.
func (b *CaseBuilder) Build() *testcase.TestCase {
	tc := b.tc
	tc.AssertionConfigs = append([]testcase.Assertion(nil), b.tc.AssertionConfigs...)
	return &tc
}

// WriteFixture writes cases as a fixture file dir/name.json and returns its
// path.
func WriteFixture(t testing.TB, dir, name string, cases ...*testcase.TestCase) string {
	t.Helper()
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
