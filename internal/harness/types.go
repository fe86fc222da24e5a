package harness

import (
	"time"

	"github.com/roach88/vtharness/internal/pipeline"
)

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	// Index is the position in the case's assertion_configs.
	Index int `json:"index"`

	// Query is the rendered SQL as sent to the engine.
	Query string `json:"query"`

	Expected map[string]any `json:"expected"`

	// Actual holds the result row by column name. Nil if the query failed
	// or did not return exactly one row.
	Actual map[string]any `json:"actual,omitempty"`

	Passed bool `json:"passed"`

	// Error describes why the assertion failed.
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"-"`
}

// Result is the outcome of a test case execution.
type Result struct {
	TestName string `json:"test_name"`

	// Table is the reference substituted for {TABLE_NAME}.
	Table string `json:"table"`

	Runner string `json:"runner"`

	// Pass is true if every assertion passed and the case ran without
	// error.
	Pass bool `json:"pass"`

	Assertions []AssertionResult `json:"assertions"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Pipeline is set for local-runner cases.
	Pipeline *pipeline.Stats `json:"pipeline,omitempty"`

	Duration time.Duration `json:"-"`
}

// NewResult creates a new passing result.
func NewResult(testName string) *Result {
	return &Result{
		TestName:   testName,
		Pass:       true,
		Assertions: []AssertionResult{},
		Errors:     []string{},
	}
}

// AddError adds an error message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddAssertion appends an assertion outcome, failing the result if the
// assertion failed.
func (r *Result) AddAssertion(a AssertionResult) {
	r.Assertions = append(r.Assertions, a)
	if !a.Passed {
		r.AddError(a.Error)
	}
}

// Failures counts failed assertions.
func (r *Result) Failures() int {
	n := 0
	for _, a := range r.Assertions {
		if !a.Passed {
			n++
		}
	}
	return n
}
