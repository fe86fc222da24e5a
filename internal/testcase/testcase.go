package testcase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/vtharness/internal/querysql"
)

// Runner labels accepted in fixtures.
const (
	DirectRunner   = "DirectRunner"
	DataflowRunner = "DataflowRunner"
)

// Runners lists the accepted runner labels.
var Runners = []string{DirectRunner, DataflowRunner}

// validTableName matches table names usable as a BigQuery table ID and as an
// unquoted SQLite identifier.
var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TestCase is one integration-test record.
type TestCase struct {
	// TestName uniquely identifies the scenario.
	TestName string `json:"test_name"`

	// TableName is the table under test, before any per-run suffix.
	TableName string `json:"table_name"`

	// InputPattern locates the input VCF file(s). Local runs accept a
	// filesystem glob; gs:// patterns are only meaningful to remote runners.
	InputPattern string `json:"input_pattern"`

	// AnnotationFields names the INFO field holding annotation strings
	// (e.g. "CSQ"). Empty if the case has no annotations.
	AnnotationFields string `json:"annotation_fields,omitempty"`

	// Runner is the pipeline execution backend label.
	Runner string `json:"runner"`

	// AssertionConfigs are evaluated in order against the table.
	AssertionConfigs []Assertion `json:"assertion_configs"`

	// Path is the fixture file the record was loaded from.
	Path string `json:"-"`
}

// Assertion pairs a query with its expected single-row result.
type Assertion struct {
	// Query holds fragments concatenated into one SQL statement.
	Query []string `json:"query"`

	// ExpectedResult maps result column names to expected scalar values.
	// Numbers are kept as json.Number so large counts stay exact.
	ExpectedResult map[string]any `json:"expected_result"`
}

// Text returns the concatenated query with canned names expanded and
// placeholders left in place.
func (a Assertion) Text() (string, error) {
	return querysql.Expand(a.Query)
}

// Render returns the executable query for the given fully qualified table.
func (a Assertion) Render(table string) (string, error) {
	return querysql.Render(a.Query, querysql.Vars{querysql.TableNameVar: table})
}

// ExpectedKeys returns the expected column names, sorted.
func (a Assertion) ExpectedKeys() []string {
	keys := make([]string, 0, len(a.ExpectedResult))
	for k := range a.ExpectedResult {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsLocal reports whether the pipeline for this case runs in-process.
func (tc *TestCase) IsLocal() bool {
	return tc.Runner == DirectRunner
}

// Load reads a fixture file and returns its validated records.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or any record fails validation.
func Load(path string) ([]*TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	cases, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, tc := range cases {
		tc.Path = path
	}
	return cases, nil
}

// Parse decodes and validates fixture bytes.
func Parse(data []byte) ([]*TestCase, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var cases []*TestCase
	if err := dec.Decode(&cases); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse JSON: unexpected data after fixture array")
	}

	if len(cases) == 0 {
		return nil, fmt.Errorf("fixture must contain at least one test record")
	}

	names := make(map[string]int, len(cases))
	for i, tc := range cases {
		if tc == nil {
			return nil, fmt.Errorf("record[%d]: null record", i)
		}
		if err := Validate(tc); err != nil {
			return nil, fmt.Errorf("record[%d]: invalid test case: %w", i, err)
		}
		if prev, dup := names[tc.TestName]; dup {
			return nil, fmt.Errorf("record[%d]: duplicate test_name %q (also record[%d])", i, tc.TestName, prev)
		}
		names[tc.TestName] = i
	}

	return cases, nil
}

// Validate checks that required fields are present and that every
// expected_result key is a column alias of its query.
func Validate(tc *TestCase) error {
	if tc.TestName == "" {
		return fmt.Errorf("test_name is required")
	}

	if tc.TableName == "" {
		return fmt.Errorf("table_name is required")
	}
	if !validTableName.MatchString(tc.TableName) {
		return fmt.Errorf("invalid table_name %q: must match pattern %s", tc.TableName, validTableName.String())
	}

	if tc.InputPattern == "" {
		return fmt.Errorf("input_pattern is required")
	}

	if !isKnownRunner(tc.Runner) {
		return fmt.Errorf("unknown runner %q: must be one of %v", tc.Runner, Runners)
	}

	if len(tc.AssertionConfigs) == 0 {
		return fmt.Errorf("assertion_configs list is required and must be non-empty")
	}

	for i, a := range tc.AssertionConfigs {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}

	return nil
}

func validateAssertion(index int, a Assertion) error {
	text, err := a.Text()
	if err != nil {
		return fmt.Errorf("assertion_configs[%d]: %w", index, err)
	}

	for _, name := range querysql.Placeholders(text) {
		if name != querysql.TableNameVar {
			return fmt.Errorf("assertion_configs[%d]: unknown placeholder {%s}", index, name)
		}
	}

	if len(a.ExpectedResult) == 0 {
		return fmt.Errorf("assertion_configs[%d]: expected_result is required and must be non-empty", index)
	}

	for _, key := range a.ExpectedKeys() {
		if !isScalar(a.ExpectedResult[key]) {
			return fmt.Errorf("assertion_configs[%d]: expected_result[%q] must be a scalar, got %T",
				index, key, a.ExpectedResult[key])
		}
		if !querysql.HasAlias(text, key) {
			return fmt.Errorf("assertion_configs[%d]: expected_result key %q is not a column alias of the query",
				index, key)
		}
	}

	return nil
}

func isKnownRunner(runner string) bool {
	for _, r := range Runners {
		if r == runner {
			return true
		}
	}
	return false
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, json.Number, string, bool, int, int64, float64:
		return true
	default:
		return false
	}
}

// FindFixtures returns all .json fixture files under dir, sorted.
// If filter is non-empty it is matched as a glob against the base name
// without extension.
func FindFixtures(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && info.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".json" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// LoadDir loads every fixture found by FindFixtures, in file order.
// Test names must be unique across files.
func LoadDir(dir, filter string) ([]*TestCase, error) {
	files, err := FindFixtures(dir, filter)
	if err != nil {
		return nil, err
	}

	var cases []*TestCase
	seen := make(map[string]string)
	for _, path := range files {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		for _, tc := range loaded {
			if prev, ok := seen[tc.TestName]; ok {
				return nil, fmt.Errorf("%s: duplicate test_name %q (also in %s)", path, tc.TestName, prev)
			}
			seen[tc.TestName] = path
		}
		cases = append(cases, loaded...)
	}
	return cases, nil
}
