package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a store in a temp dir, closed on cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// variantColumns is a cut-down variants table.
var variantColumns = []Column{
	{Name: "reference_name", Type: ColumnText},
	{Name: "start_position", Type: ColumnInteger},
	{Name: "end_position", Type: ColumnInteger},
	{Name: "quality", Type: ColumnReal},
	{Name: "DB", Type: ColumnBool},
	{Name: "alternate_bases", Type: ColumnJSON},
}

func createVariantTable(t *testing.T, s *Store, name string) {
	t.Helper()
	if err := s.CreateTable(context.Background(), name, variantColumns); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
}
