package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vtharness/internal/testcase"
)

// FileValidation holds the validation outcome of one fixture file.
type FileValidation struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Records  int      `json:"records"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <fixture>...",
		Short: "Validate fixture files without running them",
		Long: `Validate integration-test fixture files.

Checks each file against the fixture schema, then loads it to check the
cross-field rules: known runner, at least one assertion, and every
expected_result key selected as a column alias of its query.

Exit codes:
  0 - All fixtures valid
  1 - One or more fixtures invalid
  2 - Command error (fixture not found)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			_ = formatter.Error(ErrCodeFixtureNotFound, fmt.Sprintf("fixture not found: %s", path), nil)
			return WrapExitError(ExitCommandError, "fixture not found", err)
		}
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		fv := validateFixture(path)
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if formatter.Format == "json" {
		var cliErr *CLIError
		if !result.Valid {
			cliErr = &CLIError{Code: ErrCodeInvalidFixture, Message: invalidMessage(result)}
		}
		if err := formatter.JSON(result, cliErr); err != nil {
			return err
		}
	} else {
		outputValidateText(formatter, result)
	}

	if !result.Valid {
		// Validation failures = exit code 1
		return NewExitError(ExitFailure, invalidMessage(result))
	}
	return nil
}

// validateFixture runs the schema check, then the loader. The loader only
// runs on files that pass the schema, so each problem is reported once.
func validateFixture(path string) FileValidation {
	fv := FileValidation{Path: path}

	schemaErrs, err := testcase.CheckSchemaFile(path)
	if err != nil {
		fv.Errors = append(fv.Errors, err.Error())
		return fv
	}
	for _, se := range schemaErrs {
		fv.Errors = append(fv.Errors, se.Error())
	}
	if len(fv.Errors) > 0 {
		return fv
	}

	cases, err := testcase.Load(path)
	if err != nil {
		fv.Errors = append(fv.Errors, err.Error())
		return fv
	}

	fv.Valid = true
	fv.Records = len(cases)
	if len(cases) > 1 {
		fv.Warnings = append(fv.Warnings,
			fmt.Sprintf("file holds %d test records, expected one per file", len(cases)))
	}
	return fv
}

func invalidMessage(result ValidationResult) string {
	n := 0
	for _, f := range result.Files {
		if !f.Valid {
			n++
		}
	}
	return fmt.Sprintf("%d fixture(s) invalid", n)
}

func outputValidateText(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	for _, f := range result.Files {
		if f.Valid {
			fmt.Fprintf(w, "✓ %s (%d record(s))\n", f.Path, f.Records)
		} else {
			fmt.Fprintf(w, "✗ %s\n", f.Path)
		}
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
		for _, warn := range f.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}

	if result.Valid {
		fmt.Fprintln(w, "✓ All fixtures valid")
	}
}
