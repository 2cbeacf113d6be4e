package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store in a temp directory.
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

// createTestSession checks out a session that is closed with the test.
func createTestSession(t *testing.T, s *Store) *Session {
	t.Helper()
	sess, err := s.Session(context.Background())
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })
	return sess
}
