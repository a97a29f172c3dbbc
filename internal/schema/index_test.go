package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/fedquery/internal/embedding"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/pool"
	"github.com/kyleking/fedquery/internal/storage"
	"github.com/kyleking/fedquery/internal/types"
)

func strPtr(s string) *string { return &s }

func customersInfo() types.TableInfo {
	return types.TableInfo{
		Name: "customers",
		Columns: []types.Column{
			{Name: "customer_id", Type: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: "TEXT", Nullable: false},
			{Name: "email", Type: "TEXT", Nullable: true, Default: strPtr("'none'")},
		},
		PrimaryKey: []string{"customer_id"},
		Indexes:    []types.Index{{Name: "idx_email", Columns: []string{"email"}, Unique: true}},
		RowCount:   3,
		Sample: &types.Table{
			Columns: []string{"customer_id", "name", "email"},
			Rows: [][]interface{}{
				{int64(1), "Alice", "alice@example.com"},
				{int64(2), "Bob", nil},
				{int64(3), "Carol", "carol@example.com"},
			},
		},
	}
}

func ordersInfo() types.TableInfo {
	return types.TableInfo{
		Name: "orders",
		Columns: []types.Column{
			{Name: "order_id", Type: "INTEGER", PrimaryKey: true},
			{Name: "customer_id", Type: "INTEGER"},
			{Name: "total", Type: "REAL"},
		},
		ForeignKeys: []types.ForeignKey{{
			Columns: []string{"customer_id"}, ReferredTable: "customers", ReferredColumns: []string{"customer_id"},
		}},
		RowCount: 1500,
	}
}

func newTestIndex(opts ...Option) *Index {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewIndex(embedding.NewHashProvider(256), opts...)
}

func TestBuildText(t *testing.T) {
	text := BuildText("sales", customersInfo(), 2)

	expected := []string{
		"Table: customers in database sales",
		"Total rows: 3",
		"Columns:",
		"- customer_id (INTEGER) [PRIMARY KEY] NOT NULL",
		"- name (TEXT) NOT NULL",
		"- email (TEXT) DEFAULT 'none'",
		"Primary Key: customer_id",
		"Indexes:",
		"- UNIQUE idx_email on (email)",
		"Sample data (2 rows):",
		"Row 1: customer_id=1, name='Alice', email='alice@example.com'",
		"Row 2: customer_id=2, name='Bob'",
		"Column statistics:",
		"- customer_id: min=1, max=3, mean=2.00",
		"- name: 3 unique values",
		"- email: 2 unique values",
	}
	for _, line := range expected {
		assert.Contains(t, text, line)
	}

	assert.NotContains(t, text, "Row 3:")
	assert.Equal(t, text, BuildText("sales", customersInfo(), 2))
}

func TestBuildTextWithoutSample(t *testing.T) {
	text := BuildText("sales", ordersInfo(), 5)

	assert.Contains(t, text, "Total rows: 1,500")
	assert.Contains(t, text, "Foreign Keys:\n- customer_id -> customers(customer_id)")
	assert.True(t, strings.HasSuffix(text, "No sample data available"))
}

func TestSampleValueTruncation(t *testing.T) {
	long := strings.Repeat("x", 60)
	assert.Equal(t, "'"+strings.Repeat("x", 50)+"...'", sampleValue(long))
	assert.Equal(t, "19.5", sampleValue(19.5))
	assert.Equal(t, "'42'", sampleValue("42"))

	accented := strings.Repeat("a", 49) + "éé"
	got := sampleValue(accented)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "'"+strings.Repeat("a", 49)+"é...'", got)

	cjk := strings.Repeat("東京", 30)
	assert.Equal(t, "'"+strings.Repeat("東京", 25)+"...'", sampleValue(cjk))
}

func TestIndexTableNonASCIISample(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewTestDB(t)
	ix := newTestIndex(WithStore(repo))

	info := customersInfo()
	info.Sample.Rows[0][1] = strings.Repeat("a", 49) + "éé"
	info.Sample.Rows[1][1] = strings.Repeat("Zoë Brontë ", 8)

	desc, err := ix.IndexTable(ctx, "sales", "customers", info)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(desc.Text))

	stored, err := repo.LoadDescriptors(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, desc.Text, stored[0].Text)
}

func TestIndexTableUpserts(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex()
	ix.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	desc, err := ix.IndexTable(ctx, "sales", "customers", customersInfo())
	require.NoError(t, err)
	assert.Equal(t, []string{"customer_id", "name", "email"}, desc.ColumnNames)
	assert.True(t, desc.HasPrimaryKey)
	assert.Equal(t, int64(3), desc.RowCount)
	assert.Len(t, desc.Embedding, 256)
	assert.Equal(t, 2024, desc.IndexedAt.Year())

	info := customersInfo()
	info.RowCount = 10
	_, err = ix.IndexTable(ctx, "sales", "customers", info)
	require.NoError(t, err)

	all := ix.Descriptors("")
	require.Len(t, all, 1)
	assert.Equal(t, int64(10), all[0].RowCount)

	_, err = ix.IndexTable(ctx, "", "customers", info)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

type failingEmbedder struct {
	*embedding.DisabledProvider
}

func (failingEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func TestEmbeddingFailureIsDependencyUnavailable(t *testing.T) {
	ix := NewIndex(failingEmbedder{&embedding.DisabledProvider{}}, WithLogger(logging.Discard()))

	_, err := ix.IndexTable(context.Background(), "sales", "customers", customersInfo())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDependencyUnavailable))

	_, err = ix.Search(context.Background(), "customers", 3, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDependencyUnavailable))
}

func TestSearchRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex()

	_, err := ix.IndexTable(ctx, "sales", "customers", customersInfo())
	require.NoError(t, err)
	_, err = ix.IndexTable(ctx, "sales", "orders", ordersInfo())
	require.NoError(t, err)
	_, err = ix.IndexTable(ctx, "crm", "customers", customersInfo())
	require.NoError(t, err)

	results, err := ix.Search(ctx, "show all customers with email", 2, "sales")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "customers", results[0].Descriptor.TableName)
	assert.Equal(t, "sales", results[0].Descriptor.SourceName)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = ix.Search(ctx, "customers", 10, "")
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = ix.Search(ctx, "customers", 0, "")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestSortScoredTieBreaks(t *testing.T) {
	results := []ScoredDescriptor{
		{Descriptor: types.SchemaDescriptor{SourceName: "b", TableName: "zeta", RowCount: 5}, Score: 0.5},
		{Descriptor: types.SchemaDescriptor{SourceName: "a", TableName: "alpha", RowCount: 5}, Score: 0.5},
		{Descriptor: types.SchemaDescriptor{SourceName: "a", TableName: "big", RowCount: 500}, Score: 0.5},
		{Descriptor: types.SchemaDescriptor{SourceName: "a", TableName: "top", RowCount: 1}, Score: 0.9},
		{Descriptor: types.SchemaDescriptor{SourceName: "a", TableName: "zeta", RowCount: 5}, Score: 0.5},
	}

	sortScored(results)

	var order []string
	for _, r := range results {
		order = append(order, r.Descriptor.SourceName+"."+r.Descriptor.TableName)
	}

	assert.Equal(t, []string{"a.top", "a.big", "a.alpha", "a.zeta", "b.zeta"}, order)
}

type memoryStore struct {
	mu    sync.Mutex
	saved map[string]types.SchemaDescriptor
}

func (m *memoryStore) SaveDescriptor(_ context.Context, d types.SchemaDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved[d.Key()] = d

	return nil
}

func (m *memoryStore) LoadDescriptors(_ context.Context, source string) ([]types.SchemaDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.SchemaDescriptor
	for _, d := range m.saved {
		if source == "" || d.SourceName == source {
			out = append(out, d)
		}
	}

	return out, nil
}

func (m *memoryStore) DeleteSource(_ context.Context, source string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, d := range m.saved {
		if d.SourceName == source {
			delete(m.saved, k)
			n++
		}
	}

	return n, nil
}

func TestStorePersistenceAndLoad(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{saved: make(map[string]types.SchemaDescriptor)}

	ix := newTestIndex(WithStore(store))
	_, err := ix.IndexTable(ctx, "sales", "customers", customersInfo())
	require.NoError(t, err)
	assert.Len(t, store.saved, 1)

	reloaded := newTestIndex(WithStore(store))
	n, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := reloaded.Get("sales", "customers")
	assert.True(t, ok)

	removed, err := reloaded.RemoveSource(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, store.saved)
	assert.Empty(t, reloaded.Descriptors(""))

	_, err = reloaded.RemoveSource(ctx, "")
	assert.Error(t, err)
}

type fakeDescriber struct {
	tables map[string]types.TableInfo
	broken string
}

func (f *fakeDescriber) ListTables(context.Context, string) ([]string, error) {
	names := make([]string, 0, len(f.tables)+1)
	for name := range f.tables {
		names = append(names, name)
	}

	if f.broken != "" {
		names = append(names, f.broken)
	}

	return names, nil
}

func (f *fakeDescriber) DescribeTable(_ context.Context, _, table string) (types.TableInfo, error) {
	info, ok := f.tables[table]
	if !ok {
		return types.TableInfo{}, fmt.Errorf("no such table: %s", table)
	}

	return info, nil
}

func TestIndexSourceCollectsFailures(t *testing.T) {
	ix := newTestIndex()
	describer := &fakeDescriber{
		tables: map[string]types.TableInfo{"customers": customersInfo(), "orders": ordersInfo()},
		broken: "ghost",
	}

	report, err := ix.IndexSource(context.Background(), describer, "sales", pool.NewWorkerPool(2))
	require.NoError(t, err)
	assert.Len(t, report.Indexed, 2)
	assert.Contains(t, report.Failed, "ghost")
	assert.Equal(t, []string{"sales"}, ix.Sources())
	assert.True(t, ix.HasTable("sales", "ORDERS"))
}

func TestStatisticsAndFindTablesWithColumns(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex()

	_, err := ix.IndexTable(ctx, "sales", "customers", customersInfo())
	require.NoError(t, err)
	_, err = ix.IndexTable(ctx, "sales", "orders", ordersInfo())
	require.NoError(t, err)
	_, err = ix.IndexTable(ctx, "crm", "customers", customersInfo())
	require.NoError(t, err)

	stats := ix.Statistics("")
	assert.Equal(t, 3, stats.TotalSchemas)
	assert.Equal(t, 2, stats.TotalSources)
	assert.Equal(t, int64(1506), stats.TotalRows)
	assert.Equal(t, 2, stats.Sources["sales"].Tables)
	assert.Equal(t, 1, stats.Sources["sales"].TotalForeignKeys)
	assert.Equal(t, 2, stats.Sources["sales"].TablesWithPK)

	assert.Equal(t, 1, ix.Statistics("crm").TotalSchemas)

	found := ix.FindTablesWithColumns([]string{"CUSTOMER_ID", "total"}, "")
	require.Len(t, found, 1)
	assert.Equal(t, "orders", found[0].TableName)

	found = ix.FindTablesWithColumns([]string{"customer_id"}, "sales")
	assert.Len(t, found, 2)
}

func TestConcurrentIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex()

	_, err := ix.IndexTable(ctx, "sales", "orders", ordersInfo())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			info := customersInfo()
			info.RowCount = int64(i)
			_, err := ix.IndexTable(ctx, "sales", "customers", info)
			assert.NoError(t, err)
		}()

		go func() {
			defer wg.Done()

			_, ok := ix.Get("sales", "orders")
			assert.True(t, ok)
		}()
	}

	wg.Wait()
	assert.Len(t, ix.Descriptors("sales"), 2)
}
