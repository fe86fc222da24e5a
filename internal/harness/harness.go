package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/engine"
	"github.com/roach88/vtharness/internal/metrics"
	"github.com/roach88/vtharness/internal/pipeline"
	"github.com/roach88/vtharness/internal/store"
	"github.com/roach88/vtharness/internal/testcase"
)

// SuffixGenerator produces per-run table name suffixes.
type SuffixGenerator interface {
	Generate() string
}

// UUIDSuffixGenerator produces time-ordered UUIDv7 suffixes without dashes,
// valid in BigQuery and SQLite identifiers.
type UUIDSuffixGenerator struct{}

// Generate returns a new suffix.
func (UUIDSuffixGenerator) Generate() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// Clock reads the current time. Durations in results are measured with it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RunRecorder persists run history. *store.Store implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, r store.RunRecord) (int64, error)
}

// Env is what a case runs against.
type Env struct {
	// Engine executes assertion queries.
	Engine engine.Engine

	// Sink receives local-runner pipeline output. Required for
	// DirectRunner cases.
	Sink engine.Sink

	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// Suffix names local-runner tables <table>_<suffix>. Nil keeps the
	// fixture's table name.
	Suffix SuffixGenerator

	// Clock defaults to the system clock.
	Clock Clock

	// Runs records finished cases when set.
	Runs RunRecorder

	Pipeline PipelineOptions
}

// PipelineOptions configures local-runner table builds.
type PipelineOptions struct {
	BatchSize int
	Parallel  int
	Rows      bqrow.Options
}

func (env *Env) logger() *slog.Logger {
	if env.Logger == nil {
		return slog.Default()
	}
	return env.Logger
}

func (env *Env) clock() Clock {
	if env.Clock == nil {
		return systemClock{}
	}
	return env.Clock
}

// TableName returns the table a case reads. Only local-runner cases get a
// suffix, since other runners read a table that already exists.
func TableName(tc *testcase.TestCase, suffix SuffixGenerator) string {
	if suffix == nil || !tc.IsLocal() {
		return tc.TableName
	}
	return tc.TableName + "_" + suffix.Generate()
}

// InputPattern resolves a relative local pattern against the fixture's
// directory.
func InputPattern(tc *testcase.TestCase) string {
	p := tc.InputPattern
	if tc.Path == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(filepath.Dir(tc.Path), p)
}

// Run executes a test case and returns the result.
//
// Failed assertions are reported in the Result. The returned error is for
// cases that could not run: a pipeline failure, a missing sink or a
// canceled context.
//
// Execution flow:
// 1. Build the table with the pipeline (local runner only)
// 2. Render, execute and compare each assertion in order
// 3. Record metrics and run history
func Run(ctx context.Context, tc *testcase.TestCase, env *Env) (*Result, error) {
	if env == nil || env.Engine == nil {
		return nil, fmt.Errorf("harness requires an engine")
	}
	logger := env.logger().With("test", tc.TestName)
	clock := env.clock()
	start := clock.Now()

	table := TableName(tc, env.Suffix)
	result := NewResult(tc.TestName)
	result.Table = env.Engine.TableRef(table)
	result.Runner = tc.Runner

	if tc.IsLocal() {
		stats, err := buildTable(ctx, tc, table, env, logger)
		if err != nil {
			env.Metrics.ObserveCase(false, err)
			return nil, fmt.Errorf("%s: failed to build table %s: %w", tc.TestName, table, err)
		}
		result.Pipeline = stats
		env.Metrics.AddPipelineRows(stats.Rows)
	}

	for i, a := range tc.AssertionConfigs {
		if err := ctx.Err(); err != nil {
			env.Metrics.ObserveCase(false, err)
			return nil, err
		}
		ar := runAssertion(ctx, tc.TestName, i, a, result.Table, env, clock)
		env.Metrics.ObserveAssertion(string(env.Engine.Dialect()), ar.Passed, ar.Duration.Seconds())
		result.AddAssertion(ar)
		if !ar.Passed {
			logger.Warn("assertion failed", "index", i, "error", ar.Error)
		}
	}

	result.Duration = clock.Now().Sub(start)
	env.Metrics.ObserveCase(result.Pass, nil)
	logger.Info("case finished",
		"table", result.Table,
		"pass", result.Pass,
		"assertions", len(result.Assertions),
		"failures", result.Failures(),
		"duration", result.Duration)

	if env.Runs != nil {
		rec := store.RunRecord{
			TestName:   tc.TestName,
			TableName:  table,
			Runner:     tc.Runner,
			Passed:     result.Pass,
			Assertions: len(result.Assertions),
			Failures:   result.Failures(),
			Duration:   result.Duration,
		}
		if _, err := env.Runs.RecordRun(ctx, rec); err != nil {
			logger.Warn("failed to record run", "error", err)
		}
	}
	return result, nil
}

func buildTable(ctx context.Context, tc *testcase.TestCase, table string, env *Env, logger *slog.Logger) (*pipeline.Stats, error) {
	if env.Sink == nil {
		return nil, fmt.Errorf("runner %s requires a sink", tc.Runner)
	}
	var fields []string
	if tc.AnnotationFields != "" {
		fields = []string{tc.AnnotationFields}
	}
	return pipeline.Run(ctx, pipeline.Options{
		InputPattern:     InputPattern(tc),
		Table:            table,
		AnnotationFields: fields,
		Rows:             env.Pipeline.Rows,
		BatchSize:        env.Pipeline.BatchSize,
		Parallel:         env.Pipeline.Parallel,
		Logger:           logger,
	}, env.Sink)
}

func runAssertion(ctx context.Context, testName string, index int, a testcase.Assertion, table string, env *Env, clock Clock) AssertionResult {
	ar := AssertionResult{Index: index, Expected: a.ExpectedResult}

	sql, err := a.Render(table)
	if err != nil {
		ar.Error = fmt.Sprintf("assertion[%d]: %v", index, err)
		return ar
	}
	ar.Query = sql

	start := clock.Now()
	rs, err := env.Engine.Query(ctx, sql)
	ar.Duration = clock.Now().Sub(start)
	if err != nil {
		ar.Error = fmt.Sprintf("assertion[%d]: %v", index, err)
		return ar
	}

	actual, err := CompareRow(a.ExpectedResult, rs)
	ar.Actual = actual
	if err != nil {
		var aerr *AssertionError
		if errors.As(err, &aerr) {
			aerr.TestName = testName
			aerr.Index = index
			aerr.Query = sql
		}
		ar.Error = err.Error()
		return ar
	}
	ar.Passed = true
	return ar
}

// RunSuite runs cases concurrently, at most parallel at a time (unbounded
// when parallel < 1). Results are in the order of cases. A case that could
// not run yields a failed Result carrying the error message.
func RunSuite(ctx context.Context, cases []*testcase.TestCase, env *Env, parallel int) ([]*Result, error) {
	results := make([]*Result, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, tc := range cases {
		i, tc := i, tc
		g.Go(func() error {
			r, err := Run(gctx, tc, env)
			if err != nil {
				r = NewResult(tc.TestName)
				r.Runner = tc.Runner
				r.AddError(err.Error())
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Passed reports whether every result passed.
func Passed(results []*Result) bool {
	for _, r := range results {
		if r == nil || !r.Pass {
			return false
		}
	}
	return true
}
