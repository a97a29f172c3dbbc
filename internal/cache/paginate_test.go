package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/testutil"
)

func TestPaginateTable(t *testing.T) {
	table := testutil.NewSequentialTable("id", 100)

	tests := []struct {
		name      string
		page      int
		size      int
		wantRows  int
		wantFirst int64
		wantPages int
		hasNext   bool
		hasPrev   bool
	}{
		{name: "first page", page: 1, size: 25, wantRows: 25, wantFirst: 1, wantPages: 4, hasNext: true},
		{name: "middle page", page: 2, size: 25, wantRows: 25, wantFirst: 26, wantPages: 4, hasNext: true, hasPrev: true},
		{name: "last partial page", page: 4, size: 30, wantRows: 10, wantFirst: 91, wantPages: 4, hasPrev: true},
		{name: "past the end", page: 9, size: 25, wantRows: 0, wantPages: 4, hasPrev: true},
		{name: "page below one", page: 0, size: 50, wantRows: 50, wantFirst: 1, wantPages: 2, hasNext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PaginateTable(table, tt.page, tt.size)

			assert.Len(t, got.Table.Rows, tt.wantRows)
			assert.Equal(t, tt.wantPages, got.TotalPages)
			assert.Equal(t, 100, got.TotalRows)
			assert.Equal(t, tt.hasNext, got.HasNext)
			assert.Equal(t, tt.hasPrev, got.HasPrev)
			assert.Equal(t, table.Columns, got.Table.Columns)

			if tt.wantRows > 0 {
				assert.EqualValues(t, tt.wantFirst, got.Table.Rows[0][0])
			}
		})
	}
}

func TestPaginateEmptyTable(t *testing.T) {
	got := PaginateTable(testutil.NewSequentialTable("id", 0), 1, 10)

	assert.Empty(t, got.Table.Rows)
	assert.Equal(t, 0, got.TotalPages)
	assert.False(t, got.HasNext)
	assert.False(t, got.HasPrev)
}

func TestPaginatorStoreAndPage(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, DefaultLimits())
	p := NewPaginator(c, 25, time.Minute)

	id, err := p.Store(ctx, testutil.NewSequentialTable("id", 60))
	require.NoError(t, err)

	page, err := p.Page(ctx, id, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, id, page.ResultID)
	assert.Len(t, page.Table.Rows, 10)
	assert.Equal(t, 3, page.TotalPages)

	page, err = p.Page(ctx, id, 1, 60)
	require.NoError(t, err)
	assert.Len(t, page.Table.Rows, 60)
	assert.False(t, page.HasNext)

	clock.Advance(2 * time.Minute)

	_, err = p.Page(ctx, id, 1, 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	_, err = p.Page(ctx, " ", 1, 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestPaginatorDecodesBackendCopies(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	writer, _ := newTestCache(t, DefaultLimits(), WithBackend(backend))

	id, err := NewPaginator(writer, 10, time.Minute).Store(ctx, testutil.NewSequentialTable("id", 15))
	require.NoError(t, err)

	// a second process sharing the backend only sees the encoded bytes
	reader, _ := newTestCache(t, DefaultLimits(), WithBackend(backend))

	page, err := NewPaginator(reader, 10, time.Minute).Page(ctx, id, 2, 0)
	require.NoError(t, err)
	require.Len(t, page.Table.Rows, 5)
	assert.Equal(t, int64(11), page.Table.Rows[0][0])
}

func TestPaginatorRejectsOversizedResult(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxEntryBytes = 16
	c, _ := newTestCache(t, limits)

	_, err := NewPaginator(c, 10, time.Minute).Store(context.Background(), testutil.NewSequentialTable("id", 500))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}
