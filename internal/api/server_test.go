package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/fedquery/internal/cache"
	"github.com/kyleking/fedquery/internal/documents"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/executor"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/monitor"
	"github.com/kyleking/fedquery/internal/pool"
	"github.com/kyleking/fedquery/internal/query"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/search"
	"github.com/kyleking/fedquery/internal/storage"
	"github.com/kyleking/fedquery/internal/testutil"
)

type testEnv struct {
	server  *httptest.Server
	cache   *cache.ResultCache
	metrics *monitor.Metrics
}

func newTestEnv(t *testing.T, withCache bool) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := logging.Discard()
	embedder := testutil.NewTestEmbedder()

	exec := executor.New(executor.WithLogger(logger))
	require.NoError(t, exec.Register(testutil.TestSourceName, "sqlite", testutil.NewFixtureDB(t)))

	idx := schema.NewIndex(embedder, schema.WithLogger(logger))
	_, err := idx.IndexSource(ctx, exec, testutil.TestSourceName, pool.NewWorkerPool(2))
	require.NoError(t, err)

	docs := documents.NewIndex(storage.NewTestDB(t), embedder, documents.WithLogger(logger))
	metrics := monitor.NewMetrics()

	opts := []search.Option{
		search.WithLogger(logger),
		search.WithDocuments(docs),
		search.WithMetrics(metrics),
	}

	var resultCache *cache.ResultCache
	if withCache {
		resultCache, err = cache.New(cache.DefaultLimits(), cache.WithLogger(logger), cache.WithMetrics(metrics))
		require.NoError(t, err)
		t.Cleanup(func() { _ = resultCache.Close() })

		opts = append(opts, search.WithCache(resultCache))
	}

	gen := query.NewGenerator(idx, query.DefaultRuleConfig(), query.WithLogger(logger))
	orch := search.New(gen, exec, opts...)

	srv := NewServer(Config{
		Orchestrator: orch,
		Schemas:      idx,
		Documents:    docs,
		Metrics:      metrics,
		Logger:       logger,
	})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, cache: resultCache, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, reader)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func decodeError(t *testing.T, data []byte) errorBody {
	t.Helper()

	var out errorResponse
	require.NoError(t, json.Unmarshal(data, &out))

	return out.Error
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	resp, data := env.do(t, http.MethodPost, "/api/v1/documents", documents.Document{
		SourceName: "handbook",
		Title:      "Order handling",
		Content:    "Orders are shipped within two business days.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, data = env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "count orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var out struct {
		TotalResults  int                      `json:"totalResults"`
		RankedResults []map[string]interface{} `json:"rankedResults"`
		Errors        []search.LegError        `json:"errors"`
		Page          search.Page              `json:"page"`
	}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, 2, out.TotalResults)
	assert.Empty(t, out.Errors)
	require.Len(t, out.RankedResults, 2)
	assert.Equal(t, "shop.orders", out.RankedResults[0]["sourceName"])
	assert.Equal(t, "structured", out.RankedResults[0]["sourceType"])
	assert.Equal(t, "unstructured", out.RankedResults[1]["sourceType"])
	assert.Equal(t, 1, out.Page.Number)
}

func TestSearchEndpointValidation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "empty query", body: map[string]interface{}{"query": ""}},
		{name: "no legs", body: map[string]interface{}{"query": "orders", "searchStructured": false, "searchUnstructured": false}},
		{name: "unknown field", body: map[string]interface{}{"query": "orders", "bogus": 1}},
		{name: "negative page", body: map[string]interface{}{"query": "orders", "pageSize": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, http.MethodPost, "/api/v1/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, apperrors.ErrTypeValidation, decodeError(t, data).Type)
		})
	}
}

func TestGenerateQueryEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	resp, data := env.do(t, http.MethodPost, "/api/v1/query", generateRequest{Query: "count orders", Source: testutil.TestSourceName})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var q query.GeneratedQuery
	require.NoError(t, json.Unmarshal(data, &q))

	assert.Equal(t, "SELECT COUNT(*) FROM orders LIMIT 100;", q.QueryText)
	assert.Equal(t, testutil.TestSourceName, q.SourceName)
	assert.Equal(t, query.StageRules, q.Stage)
}

func TestExecuteSQLEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	body := sqlRequest{Source: testutil.TestSourceName, SQL: "SELECT id, name FROM customers ORDER BY id"}

	resp, data := env.do(t, http.MethodPost, "/api/v1/sql", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var out sqlResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.Cached)
	assert.Equal(t, testutil.FixtureCustomerCount, out.Rows)
	assert.Equal(t, []string{"id", "name"}, out.Table.Columns)

	_, data = env.do(t, http.MethodPost, "/api/v1/sql", body)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Cached)

	tests := []struct {
		name   string
		body   sqlRequest
		status int
		typ    apperrors.ErrorType
	}{
		{name: "destructive", body: sqlRequest{Source: "shop", SQL: "DROP TABLE orders"}, status: http.StatusUnprocessableEntity, typ: apperrors.ErrTypeRejectedGeneration},
		{name: "unknown source", body: sqlRequest{Source: "nope", SQL: "SELECT 1"}, status: http.StatusNotFound, typ: apperrors.ErrTypeNotFound},
		{name: "missing sql", body: sqlRequest{Source: "shop"}, status: http.StatusBadRequest, typ: apperrors.ErrTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, http.MethodPost, "/api/v1/sql", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.typ, decodeError(t, data).Type)
		})
	}
}

func TestExecuteSQLPaging(t *testing.T) {
	env := newTestEnv(t, true)

	body := sqlRequest{Source: testutil.TestSourceName, SQL: "SELECT id FROM orders ORDER BY id", PageSize: 40}

	resp, data := env.do(t, http.MethodPost, "/api/v1/sql", body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var out sqlResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Page)
	assert.Equal(t, testutil.FixtureOrderCount, out.Rows)
	assert.Len(t, out.Table.Rows, 40)
	assert.Equal(t, 4, out.Page.TotalPages)
	assert.True(t, out.Page.HasNext)
	assert.False(t, out.Page.HasPrev)
	require.NotEmpty(t, out.Page.ResultID)

	resp, data = env.do(t, http.MethodGet, "/api/v1/results/"+out.Page.ResultID+"?page=4", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var last cache.TablePage
	require.NoError(t, json.Unmarshal(data, &last))
	assert.Equal(t, 4, last.Page)
	assert.Len(t, last.Table.Rows, testutil.FixtureOrderCount-120)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrev)

	resp, data = env.do(t, http.MethodGet, "/api/v1/results/"+out.Page.ResultID+"?page=1&pageSize=100", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &last))
	assert.Len(t, last.Table.Rows, 100)
	assert.Equal(t, 2, last.TotalPages)

	resp, data = env.do(t, http.MethodGet, "/api/v1/results/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperrors.ErrTypeNotFound, decodeError(t, data).Type)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/results/"+out.Page.ResultID+"?page=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteSQLPagingWithoutCache(t *testing.T) {
	env := newTestEnv(t, false)

	body := sqlRequest{Source: testutil.TestSourceName, SQL: "SELECT id FROM orders", PageSize: 10}
	resp, data := env.do(t, http.MethodPost, "/api/v1/sql", body)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, apperrors.ErrTypeDependencyUnavailable, decodeError(t, data).Type)
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	_, _ = env.do(t, http.MethodPost, "/api/v1/sql", sqlRequest{Source: "shop", SQL: "SELECT * FROM products"})

	resp, data := env.do(t, http.MethodGet, "/api/v1/cache/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 1, stats.EntryCount)

	resp, data = env.do(t, http.MethodGet, "/api/v1/cache/entries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []cache.EntryInfo
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "shop", entries[0].Source)
	assert.Equal(t, testutil.FixtureProductCount, entries[0].RowCount)

	resp, data = env.do(t, http.MethodDelete, "/api/v1/cache?prefix=other:", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"invalidated": 0}`, string(data))

	resp, data = env.do(t, http.MethodDelete, "/api/v1/cache?prefix=shop:", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"invalidated": 1}`, string(data))
	assert.Equal(t, 0, env.cache.Stats().EntryCount)
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	env := newTestEnv(t, false)

	resp, data := env.do(t, http.MethodGet, "/api/v1/cache/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decodeError(t, data)
	assert.Equal(t, apperrors.ErrTypeDependencyUnavailable, body.Type)
	assert.NotEmpty(t, body.Suggestions)
}

func TestDocumentEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	resp, data := env.do(t, http.MethodPost, "/api/v1/documents", documents.Document{
		SourceName: "wiki",
		Content:    "<h1>Returns</h1><p>Refunds take 14 days.</p>",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var created map[string]string
	require.NoError(t, json.Unmarshal(data, &created))
	require.NotEmpty(t, created["id"])

	resp, data = env.do(t, http.MethodGet, "/api/v1/documents?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []storage.StoredDocument
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Returns", listed[0].Title)

	resp, data = env.do(t, http.MethodPost, "/api/v1/documents/search", documentSearchRequest{Query: "refunds"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "Refunds take 14 days")

	resp, _ = env.do(t, http.MethodGet, "/api/v1/documents?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/documents/"+created["id"], nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/documents/"+created["id"], nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = env.do(t, http.MethodPost, "/api/v1/documents", documents.Document{SourceName: "wiki"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.ErrTypeValidation, decodeError(t, data).Type)
}

func TestSourcesAndHealth(t *testing.T) {
	env := newTestEnv(t, true)

	resp, data := env.do(t, http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"name": "shop", "indexedTables": 3}]`, string(data))

	resp, data = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["sources"])
	assert.Equal(t, true, health["cache"])
	assert.Contains(t, health, "memory")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	_, _ = env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "count orders", "searchUnstructured": false})

	resp, data := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := string(data)
	assert.Contains(t, body, "fedquery_cache_misses_total")
	assert.Contains(t, body, `fedquery_query_generated_total{stage="rules"} 1`)
	assert.Contains(t, body, "fedquery_search_duration_seconds_count 1")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		errType apperrors.ErrorType
		want    int
	}{
		{apperrors.ErrTypeValidation, http.StatusBadRequest},
		{apperrors.ErrTypeRejectedGeneration, http.StatusUnprocessableEntity},
		{apperrors.ErrTypeNotFound, http.StatusNotFound},
		{apperrors.ErrTypeTimeout, http.StatusGatewayTimeout},
		{apperrors.ErrTypeDependencyUnavailable, http.StatusServiceUnavailable},
		{apperrors.ErrTypeDatabase, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.errType), string(tt.errType))
	}
}

func TestServeShutsDownWithContext(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	orch := search.New(nil, testutil.NewMockExecutor(), search.WithLogger(logging.Discard()))
	srv := NewServer(Config{Addr: addr, Orchestrator: orch, Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, testutil.ShortTestTimeout, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testutil.ShortTestTimeout):
		t.Fatal("server did not shut down")
	}
}
