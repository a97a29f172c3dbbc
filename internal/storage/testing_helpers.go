package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kyleking/fedquery/internal/types"
)

// NewTestDB creates a migrated repository in a temp dir, closed on test cleanup
func NewTestDB(t testing.TB) *DuckDBRepository {
	t.Helper()

	repo, err := NewDuckDBRepository(filepath.Join(t.TempDir(), "test.duckdb"))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}

	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close test repository: %v", err)
		}
	})

	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize test repository: %v", err)
	}

	return repo
}

// NewTestDBWithDescriptors creates a test repository pre-seeded with descriptors
func NewTestDBWithDescriptors(t testing.TB, descriptors []types.SchemaDescriptor) *DuckDBRepository {
	t.Helper()

	repo := NewTestDB(t)

	for _, d := range descriptors {
		if err := repo.SaveDescriptor(context.Background(), d); err != nil {
			t.Fatalf("failed to store descriptor %s: %v", d.Key(), err)
		}
	}

	return repo
}
