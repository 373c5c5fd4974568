package core

import (
	"os"
	"testing"
)

const (
	testMaxSegmentSize      = 1 << 20
	testMaxSegmentsInMemory = 64
)

// SetupTempDB opens a Database rooted at a fresh temp directory and
// registers cleanup (close + remove) with tb.
func SetupTempDB(tb testing.TB) (db *Database, path string, cleanup func()) {
	path, err := os.MkdirTemp("", "decuma_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}

	db, err = Open(path, testMaxSegmentSize, testMaxSegmentsInMemory)
	if err != nil {
		_ = os.RemoveAll(path)
		tb.Fatalf("Open(%q) failed: %v", path, err)
	}

	cleanup = func() {
		_ = db.Shutdown()
		_ = os.RemoveAll(path)
	}
	tb.Cleanup(cleanup)

	return db, path, cleanup
}

// ReopenTempDB simulates a restart: it reopens the database at the same
// path without removing anything, exercising register replay.
func ReopenTempDB(tb testing.TB, path string) *Database {
	db, err := Open(path, testMaxSegmentSize, testMaxSegmentsInMemory)
	if err != nil {
		tb.Fatalf("reopen(%q) failed: %v", path, err)
	}
	return db
}

