package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vtharness/internal/querysql"
	"github.com/roach88/vtharness/internal/testcase"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Table  string // table reference substituted for {TABLE_NAME}
	SQLite bool   // print the SQLite translation
}

// RenderedCase holds the rendered queries of one test case.
type RenderedCase struct {
	TestName string   `json:"test_name"`
	Table    string   `json:"table"`
	Queries  []string `json:"queries"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <fixture>",
		Short: "Print the rendered assertion queries of a fixture",
		Long: `Print each assertion query of a fixture with canned queries expanded
and {TABLE_NAME} substituted.

The table defaults to the fixture's table_name.

Examples:
  vtharness render fixture.json
  vtharness render fixture.json --table my-project.my_dataset.my_table
  vtharness render fixture.json --sqlite`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table reference for {TABLE_NAME}")
	cmd.Flags().BoolVar(&opts.SQLite, "sqlite", false, "print queries translated for SQLite")

	return cmd
}

func runRender(opts *RenderOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeFixtureNotFound, fmt.Sprintf("fixture not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "fixture not found", err)
	}

	cases, err := testcase.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidFixture, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid fixture", err)
	}

	rendered := make([]RenderedCase, 0, len(cases))
	for _, tc := range cases {
		table := opts.Table
		if table == "" {
			table = tc.TableName
		}
		rc := RenderedCase{TestName: tc.TestName, Table: table}
		for i, a := range tc.AssertionConfigs {
			sql, err := a.Render(table)
			if err != nil {
				_ = formatter.Error(ErrCodeInvalidFixture, err.Error(), nil)
				return WrapExitError(ExitFailure, fmt.Sprintf("%s: assertion[%d]", tc.TestName, i), err)
			}
			if opts.SQLite {
				sql = querysql.TranslateSQLite(sql)
			}
			rc.Queries = append(rc.Queries, sql)
		}
		rendered = append(rendered, rc)
	}

	if formatter.Format == "json" {
		return formatter.JSON(rendered, nil)
	}

	w := formatter.Writer
	for _, rc := range rendered {
		fmt.Fprintf(w, "-- %s (%s)\n", rc.TestName, rc.Table)
		for _, q := range rc.Queries {
			fmt.Fprintf(w, "%s;\n", q)
		}
	}
	return nil
}
