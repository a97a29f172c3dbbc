package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/types"
)

func descriptor(source, table string, rows int64, vec ...float32) types.SchemaDescriptor {
	return types.SchemaDescriptor{
		SourceName:      source,
		TableName:       table,
		Text:            "Table: " + table + " in database " + source,
		Embedding:       vec,
		ColumnNames:     []string{"id", "name"},
		RowCount:        rows,
		HasPrimaryKey:   true,
		ForeignKeyCount: 1,
		IndexedAt:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndLoadDescriptors(t *testing.T) {
	ctx := context.Background()
	repo := NewTestDB(t)

	require.NoError(t, repo.SaveDescriptor(ctx, descriptor("sales", "orders", 10, 0.1, 0.2)))
	require.NoError(t, repo.SaveDescriptor(ctx, descriptor("sales", "customers", 3, 0.3, 0.4)))
	require.NoError(t, repo.SaveDescriptor(ctx, descriptor("crm", "contacts", 7, 0.5, 0.6)))

	all, err := repo.LoadDescriptors(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "crm.contacts", all[0].Key())
	assert.Equal(t, []float32{0.5, 0.6}, all[0].Embedding)
	assert.Equal(t, []string{"id", "name"}, all[0].ColumnNames)
	assert.True(t, all[0].HasPrimaryKey)
	assert.Equal(t, 1, all[0].ForeignKeyCount)

	sales, err := repo.LoadDescriptors(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "customers", sales[0].TableName)
}

func TestSaveDescriptorReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewTestDB(t)

	require.NoError(t, repo.SaveDescriptor(ctx, descriptor("sales", "orders", 10, 1, 0)))

	updated := descriptor("sales", "orders", 250, 0, 1)
	updated.Text = "re-indexed"
	require.NoError(t, repo.SaveDescriptor(ctx, updated))

	got, err := repo.LoadDescriptors(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(250), got[0].RowCount)
	assert.Equal(t, "re-indexed", got[0].Text)
	assert.Equal(t, []float32{0, 1}, got[0].Embedding)
}

func TestDeleteDescriptorAndSource(t *testing.T) {
	ctx := context.Background()
	repo := NewTestDBWithDescriptors(t, []types.SchemaDescriptor{
		descriptor("a", "t1", 1), descriptor("a", "t2", 1), descriptor("b", "t1", 1),
	})

	require.NoError(t, repo.DeleteDescriptor(ctx, "a", "t1"))

	err := repo.DeleteDescriptor(ctx, "a", "t1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	removed, err := repo.DeleteSource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := repo.LoadDescriptors(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].SourceName)
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	repo := NewTestDB(t)

	docs := []StoredDocument{
		{ID: "doc-1", SourceName: "handbook", Title: "Refunds", Content: "Refund policy", Embedding: []float32{1, 0}},
		{ID: "doc-2", SourceName: "handbook", Title: "Shipping", Content: "Shipping times", Embedding: []float32{0.6, 0.8}},
		{ID: "doc-3", SourceName: "wiki", Content: "Unrelated", Embedding: []float32{0, 1}, Metadata: map[string]string{"lang": "en"}},
	}
	for _, d := range docs {
		require.NoError(t, repo.AddDocument(ctx, d))
	}

	matches, err := repo.SearchDocuments(ctx, []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc-1", matches[0].Document.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "doc-2", matches[1].Document.ID)
	assert.InDelta(t, 0.6, matches[1].Score, 1e-6)
	assert.Nil(t, matches[0].Document.Embedding)

	filtered, err := repo.SearchDocuments(ctx, []float32{1, 0}, 10, 0.5)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	_, err = repo.SearchDocuments(ctx, []float32{1, 0}, 0, 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	got, err := repo.GetDocument(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "en"}, got.Metadata)
	assert.Equal(t, []float32{0, 1}, got.Embedding)

	require.NoError(t, repo.DeleteDocument(ctx, "doc-3"))
	_, err = repo.GetDocument(ctx, "doc-3")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
	assert.True(t, apperrors.IsType(repo.DeleteDocument(ctx, "doc-3"), apperrors.ErrTypeNotFound))

	listed, err := repo.ListDocuments(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestAddDocumentAssignsID(t *testing.T) {
	ctx := context.Background()
	repo := NewTestDB(t)

	require.NoError(t, repo.AddDocument(ctx, StoredDocument{SourceName: "notes", Content: "hello"}))

	listed, err := repo.ListDocuments(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].ID, 36)
	assert.False(t, listed[0].CreatedAt.IsZero())
}

func TestGetStatsAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewTestDBWithDescriptors(t, []types.SchemaDescriptor{
		descriptor("a", "t1", 1), descriptor("a", "t2", 1), descriptor("b", "t1", 1),
	})
	require.NoError(t, repo.AddDocument(ctx, StoredDocument{SourceName: "notes", Content: "x"}))

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDescriptors)
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, stats.SourceBreakdown)
	assert.Equal(t, 2024, stats.LastIndexedAt.Year())

	require.NoError(t, repo.Clear(ctx))

	stats, err = repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDescriptors)
	assert.Zero(t, stats.TotalDocuments)
	assert.True(t, stats.LastIndexedAt.IsZero())
}

func TestInMemoryRepository(t *testing.T) {
	repo, err := NewDuckDBRepository("")
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Initialize(context.Background()))
	require.NoError(t, repo.SaveDescriptor(context.Background(), descriptor("mem", "t", 1)))

	got, err := repo.LoadDescriptors(context.Background(), "mem")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
