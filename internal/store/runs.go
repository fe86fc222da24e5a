package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a test has no recorded runs.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the stored summary of one test case execution.
type RunRecord struct {
	ID         int64
	TestName   string
	TableName  string
	Runner     string
	Passed     bool
	Assertions int
	Failures   int
	Duration   time.Duration
}

// RecordRun appends a run and returns its id.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vt_runs (test_name, table_name, runner, passed, assertions, failures, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.TestName, r.TableName, r.Runner, r.Passed, r.Assertions, r.Failures, r.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}
	return id, nil
}

// Runs returns the runs of a test in insertion order. Returns an empty
// slice (not nil) when there are none.
func (s *Store) Runs(ctx context.Context, testName string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_name, table_name, runner, passed, assertions, failures, duration_ms
		FROM vt_runs
		WHERE test_name = ?
		ORDER BY id ASC
	`, testName)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recent run of a test.
func (s *Store) LatestRun(ctx context.Context, testName string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, test_name, table_name, runner, passed, assertions, failures, duration_ms
		FROM vt_runs
		WHERE test_name = ?
		ORDER BY id DESC
		LIMIT 1
	`, testName)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%s: %w", testName, ErrRunNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var r RunRecord
	var durationMS int64
	err := sc.Scan(&r.ID, &r.TestName, &r.TableName, &r.Runner, &r.Passed, &r.Assertions, &r.Failures, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, err
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}
