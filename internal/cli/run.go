package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/config"
	"github.com/roach88/vtharness/internal/engine"
	"github.com/roach88/vtharness/internal/harness"
	"github.com/roach88/vtharness/internal/metrics"
	"github.com/roach88/vtharness/internal/testcase"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Engine     string
	Database   string
	Project    string
	Dataset    string
	Filter     string // fixture filter (glob pattern)
	Parallel   int
	NoSuffix   bool
	MetricsOut string

	// Suffix overrides the table suffix generator (for testing).
	// If nil, defaults to harness.UUIDSuffixGenerator.
	Suffix harness.SuffixGenerator

	// Clock overrides the clock durations are measured with (for testing).
	Clock harness.Clock
}

// CaseSummary holds the outcome of a single test case.
type CaseSummary struct {
	Name       string   `json:"name"`
	Table      string   `json:"table,omitempty"`
	Runner     string   `json:"runner"`
	Pass       bool     `json:"pass"`
	Assertions int      `json:"assertions"`
	Failures   int      `json:"failures"`
	Errors     []string `json:"errors,omitempty"`
}

// RunResult holds the overall suite result.
type RunResult struct {
	Cases  []CaseSummary `json:"cases"`
	Passed int           `json:"passed"`
	Failed int           `json:"failed"`
	Total  int           `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <fixtures-dir>",
		Short: "Run integration-test fixtures",
		Long: `Run every fixture under a directory against a query engine.

DirectRunner cases first load their input VCF files into a fresh table
named <table_name>_<suffix>; other runners are checked against a table
that already exists. Each assertion must return exactly one row matching
its expected_result.

Settings come from flags, then the environment (VTHARNESS_ENGINE,
VTHARNESS_DB, VTHARNESS_PROJECT, VTHARNESS_DATASET, VTHARNESS_PARALLEL),
then the --config file.

Exit codes:
  0 - All cases passed
  1 - One or more cases failed
  2 - Command error (invalid paths, bad config, engine unavailable)

Examples:
  vtharness run ./fixtures
  vtharness run ./fixtures --filter "gnomad*"
  vtharness run ./fixtures --engine bigquery --project p --dataset d
  vtharness run ./fixtures --format json --metrics-out vtharness.prom`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", config.DefaultEngine, "query engine (sqlite|bigquery)")
	cmd.Flags().StringVar(&opts.Database, "db", config.DefaultDBPath, "path to SQLite database")
	cmd.Flags().StringVar(&opts.Project, "project", "", "BigQuery project")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "BigQuery dataset")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter fixtures by glob pattern")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", config.DefaultParallel, "cases run concurrently")
	cmd.Flags().BoolVar(&opts.NoSuffix, "no-suffix", false, "use table names without a per-run suffix")
	cmd.Flags().StringVar(&opts.MetricsOut, "metrics-out", "", "write Prometheus metrics to this file")

	return cmd
}

// resolveConfig loads the config file and environment, then applies the
// flags that were set explicitly.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine = opts.Engine
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.Database
	}
	if flags.Changed("project") {
		cfg.Project = opts.Project
	}
	if flags.Changed("dataset") {
		cfg.Dataset = opts.Dataset
	}
	if flags.Changed("parallel") {
		cfg.Parallel = opts.Parallel
	}
	if flags.Changed("no-suffix") {
		cfg.NoSuffix = opts.NoSuffix
	}
	if flags.Changed("metrics-out") {
		cfg.MetricsOut = opts.MetricsOut
	}
	return cfg, cfg.Validate()
}

func runSuite(opts *RunOptions, fixturesDir string, cmd *cobra.Command) error {
	logger := opts.logger()

	// Validate directory
	if _, err := os.Stat(fixturesDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("fixtures directory not found: %s", fixturesDir))
	}

	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	cases, err := testcase.LoadDir(fixturesDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load fixtures", err)
	}

	if len(cases) == 0 {
		if opts.Format == "json" {
			return outputRunJSON(cmd, RunResult{Cases: []CaseSummary{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No fixtures found.")
		return nil
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening engine", "engine", cfg.Engine)
	backend, err := engine.Open(ctx, engine.Options{
		Kind:    cfg.Engine,
		DBPath:  cfg.DBPath,
		Project: cfg.Project,
		Dataset: cfg.Dataset,
	}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open engine", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing engine", "error", closeErr)
		}
	}()

	recorder := metrics.NewRecorder()
	env := &harness.Env{
		Engine:  backend,
		Sink:    backend,
		Logger:  logger,
		Metrics: recorder,
		Clock:   opts.Clock,
		Pipeline: harness.PipelineOptions{
			BatchSize: cfg.Pipeline.BatchSize,
			Parallel:  cfg.Pipeline.ParallelFileReads,
			Rows: bqrow.Options{
				AllowIncompatibleRecords: cfg.Pipeline.AllowIncompatible,
				OmitEmptySampleCalls:     cfg.Pipeline.OmitEmptyCalls,
			},
		},
	}
	if !cfg.NoSuffix {
		env.Suffix = opts.Suffix
		if env.Suffix == nil {
			env.Suffix = harness.UUIDSuffixGenerator{}
		}
	}
	if sqlite, ok := backend.(*engine.SQLite); ok {
		env.Runs = sqlite.Store()
	}

	logger.Info("running suite", "cases", len(cases), "parallel", cfg.Parallel)
	results, runErr := harness.RunSuite(ctx, cases, env, cfg.Parallel)

	if cfg.MetricsOut != "" {
		if err := recorder.WriteTextfile(cfg.MetricsOut); err != nil {
			logger.Error("failed to write metrics", "path", cfg.MetricsOut, "error", err)
		}
	}

	result := summarize(results)

	// Output results
	output := outputRunText
	if opts.Format == "json" {
		output = outputRunJSON
	}
	outErr := output(cmd, result)
	if runErr != nil {
		return WrapExitError(ExitCommandError, "suite interrupted", runErr)
	}
	return outErr
}

func summarize(results []*harness.Result) RunResult {
	out := RunResult{
		Cases: make([]CaseSummary, 0, len(results)),
		Total: len(results),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		cs := CaseSummary{
			Name:       r.TestName,
			Table:      r.Table,
			Runner:     r.Runner,
			Pass:       r.Pass,
			Assertions: len(r.Assertions),
			Failures:   r.Failures(),
		}
		cs.Errors = append(cs.Errors, r.Errors...)
		out.Cases = append(out.Cases, cs)

		if r.Pass {
			out.Passed++
		}
	}
	out.Failed = out.Total - out.Passed
	return out
}

// outputRunJSON outputs the suite result as JSON.
func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}

	var cliErr *CLIError
	if result.Failed > 0 {
		cliErr = &CLIError{
			Code:    ErrCodeAssertionFailed,
			Message: fmt.Sprintf("%d case(s) failed", result.Failed),
		}
	}
	if err := formatter.JSON(result, cliErr); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d case(s) failed", result.Failed))
	}
	return nil
}

// outputRunText outputs the suite result as text.
func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()

	for _, c := range result.Cases {
		if c.Pass {
			fmt.Fprintf(w, "✓ %s (%s, %d assertion(s))\n", c.Name, c.Table, c.Assertions)
			continue
		}
		fmt.Fprintf(w, "✗ %s (%s, %d of %d assertion(s) failed)\n", c.Name, c.Table, c.Failures, c.Assertions)
		for _, e := range c.Errors {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n    "))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d case(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All cases passed")
	return nil
}
