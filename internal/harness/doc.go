// Package harness runs integration-test fixtures against a query engine.
//
// A test case names a table and a list of assertions. For the local runner
// the harness first builds the table by running the pipeline over the
// case's input files; other runners are expected to have produced the
// table already. Each assertion's query is rendered with the table
// reference, executed, and its single result row compared with the
// expected values.
//
// # Comparison
//
// A query must return exactly one row, and every expected column must be
// present in it. Numbers are normalized before comparison: integers,
// integral floats, json.Number and *big.Rat compare exactly by value, and
// non-integral values compare with a relative tolerance of 1e-9. Strings
// compare exactly. An expected bool matches a SQLite 0/1 integer.
//
// # Table names
//
// Local-runner cases write to <table_name>_<suffix> when a SuffixGenerator
// is configured, so concurrent runs do not share tables. Tests use
// testutil.FixedSuffixGenerator for reproducible names.
//
// # Golden files
//
// AssertGolden snapshots the deterministic parts of a Result (names, rendered
// queries, expected and actual values) as indented canonical JSON under
// testdata/golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
