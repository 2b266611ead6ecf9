package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/upkeep/internal/record"
)

// createTestStore creates a new on-disk store under a temp dir.
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

// seedRecord inserts one record in its own committed transaction and
// returns the assigned id.
func seedRecord(t *testing.T, s *Store, typ string, attrs record.Object) int64 {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	id, err := tx.InsertRecord(context.Background(), typ, attrs)
	if err != nil {
		t.Fatalf("InsertRecord(%q) failed: %v", typ, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	return id
}

// seedLink connects two records in its own committed transaction.
func seedLink(t *testing.T, s *Store, src int64, rel string, dst int64) {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, err := tx.InsertLink(context.Background(), src, rel, dst); err != nil {
		t.Fatalf("InsertLink(%d, %q, %d) failed: %v", src, rel, dst, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
