package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mixelka/jobmail-ingest/internal/database"
)

// NewTestDB creates a migrated SQLite database in a temporary directory.
// It automatically closes the database when the test completes.
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test db: %v", err)
		}
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	return db
}
