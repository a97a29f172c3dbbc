package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/fedquery/internal/cache"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/query"
	"github.com/kyleking/fedquery/internal/search"
	"github.com/kyleking/fedquery/internal/testutil"
)

func ordersResult() search.SearchResult {
	t := testutil.NewTestTable([]string{"id", "status", "amount"},
		[]interface{}{int64(1), "shipped", 19.5},
		[]interface{}{int64(2), nil, 5.0},
	)

	return search.SearchResult{
		SourceName:     "shop.orders",
		RelevanceScore: 1.2,
		Preview:        search.TablePreview(t, search.PreviewRows),
		Metadata:       map[string]interface{}{"cached": true, "query": "SELECT * FROM orders"},
		Content:        search.Structured{Table: t, Query: "SELECT * FROM orders"},
	}
}

func docResult() search.SearchResult {
	text := "Refunds are issued within 14 days, \"no questions\"\nSecond line"

	return search.SearchResult{
		SourceName:     "handbook",
		RelevanceScore: 0.65,
		Preview:        search.TextPreview(text, search.PreviewChars),
		Metadata:       map[string]interface{}{"title": "Refunds", "id": "doc-1"},
		Content:        search.Unstructured{Text: text},
	}
}

func TestFormatResult(t *testing.T) {
	f := NewFormatter()

	tests := []struct {
		name     string
		result   search.SearchResult
		format   OutputFormat
		expected []string
		absent   []string
	}{
		{
			name:     "short structured",
			result:   ordersResult(),
			format:   FormatShort,
			expected: []string{"1. [structured] shop.orders  Score:1.20  2 rows"},
			absent:   []string{"SELECT"},
		},
		{
			name:     "short unstructured keeps the first line",
			result:   docResult(),
			format:   FormatShort,
			expected: []string{"1. [unstructured] handbook  Score:0.65  Refunds are issued within 14 days"},
			absent:   []string{"Second line"},
		},
		{
			name:     "long structured renders the table",
			result:   ordersResult(),
			format:   FormatLong,
			expected: []string{"Query: SELECT * FROM orders", "Cached: true", "shipped", "NULL", "(2 rows)"},
		},
		{
			name:     "long unstructured shows preview and metadata",
			result:   docResult(),
			format:   FormatLong,
			expected: []string{"Second line", "Metadata: id=doc-1, title=Refunds"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.FormatResult(tt.result, 1, tt.format)

			for _, s := range tt.expected {
				assert.Contains(t, out, s)
			}

			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestFormatResponse(t *testing.T) {
	f := NewFormatter()

	resp := &search.Response{
		Query:               "orders",
		TotalResults:        12,
		SearchTimeMs:        42.4,
		StructuredResults:   []search.SearchResult{ordersResult()},
		UnstructuredResults: []search.SearchResult{docResult()},
		RankedResults:       []search.SearchResult{ordersResult(), docResult()},
		Errors: []search.LegError{
			{Leg: search.LegStructured, Source: "warehouse", Type: apperrors.ErrTypeTimeout, Message: "deadline exceeded"},
		},
		Page: search.Page{Number: 2, Size: 10, TotalResults: 12, TotalPages: 2, HasPrev: true},
	}

	out := f.FormatResponse(resp, FormatShort)

	assert.Contains(t, out, "Found 12 results in 42ms (1 structured, 1 unstructured)")
	assert.Contains(t, out, "Page 2 of 2")
	assert.Contains(t, out, "11. [structured] shop.orders")
	assert.Contains(t, out, "12. [unstructured] handbook")
	assert.Contains(t, out, "structured/warehouse (timeout): deadline exceeded")

	resp.RankedResults = nil
	resp.Errors = nil
	resp.Page = search.Page{Number: 1, Size: 10, TotalPages: 1}

	out = f.FormatResponse(resp, FormatShort)
	assert.Contains(t, out, "No results")
	assert.NotContains(t, out, "Errors:")
	assert.NotContains(t, out, "Page 1")
}

func TestFormatQuery(t *testing.T) {
	f := NewFormatter()

	out := f.FormatQuery(query.GeneratedQuery{
		QueryText:        "SELECT COUNT(*) FROM orders LIMIT 100;",
		SourceName:       "shop",
		ReferencedTables: []string{"orders"},
		Confidence:       0.6,
		Explanation:      "Generated using pattern matching (count)",
		Stage:            query.StageRules,
	})

	expected := strings.Join([]string{
		"Source: shop",
		"Tables: orders",
		"Stage: rules  Confidence: 0.60",
		"Explanation: Generated using pattern matching (count)",
		"",
		"SELECT COUNT(*) FROM orders LIMIT 100;",
	}, "\n")
	assert.Equal(t, expected, out)

	empty := f.FormatQuery(query.GeneratedQuery{SourceName: "shop", Explanation: "No relevant tables found"})
	assert.Equal(t, `No query generated for "shop": No relevant tables found`, empty)
}

func TestFormatTable(t *testing.T) {
	f := NewFormatter().WithMaxRows(3)

	assert.Equal(t, "(0 rows)", f.FormatTable(testutil.NewTestTable([]string{"id"})))
	assert.Equal(t, "(0 rows)", f.FormatTable(nil))

	out := f.FormatTable(testutil.NewSequentialTable("id", 1500))
	assert.Contains(t, out, "(1,500 rows, 1,497 not shown)")
	assert.Contains(t, out, "ID")
	assert.Equal(t, 4, strings.Count(out, "\n│ "), "header plus three data rows")

	assert.Equal(t, DefaultMaxRows, NewFormatter().maxRows)
	assert.Equal(t, DefaultMaxRows, NewFormatter().WithMaxRows(0).maxRows)
}

func TestFormatCacheStats(t *testing.T) {
	out := NewFormatter().FormatCacheStats(cache.Stats{
		Hits:       3000,
		Misses:     1000,
		Evictions:  2,
		TotalBytes: 5 * 1024 * 1024,
		EntryCount: 42,
		HitRate:    0.75,
	})

	for _, s := range []string{"Entries: 42", "Size: 5.0 MiB", "Hits: 3,000", "Misses: 1,000", "Evictions: 2", "Hit Rate: 75.0%"} {
		assert.Contains(t, out, s)
	}
}

func TestFormatCachedQueries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFormatter()
	f.now = func() time.Time { return now }

	assert.Equal(t, "No cached queries", f.FormatCachedQueries(nil))

	out := f.FormatCachedQueries([]cache.EntryInfo{{
		Key:       "shop:abc",
		Source:    "shop",
		RowCount:  1200,
		SizeBytes: 2048,
		CreatedAt: now.Add(-2 * time.Minute),
		Remaining: 58*time.Minute + 400*time.Millisecond,
	}})

	for _, s := range []string{"shop:abc", "1,200", "2.0 KiB", "2 minutes ago", "58m0s"} {
		assert.Contains(t, out, s)
	}
}

func TestFormatSources(t *testing.T) {
	f := NewFormatter()

	assert.Equal(t, "No sources configured", f.FormatSources(nil, nil))

	out := f.FormatSources([]string{"shop", "warehouse"}, map[string]int{"shop": 3})
	assert.Contains(t, out, "INDEXED TABLES")
	assert.Contains(t, out, "shop")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "warehouse")
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, []search.SearchResult{ordersResult(), docResult()}, ExportCSV))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"id", "status", "amount", "content", "_source", "_relevance"}, records[0])
	assert.Equal(t, []string{"1", "shipped", "19.5", "", "shop.orders", "1.2"}, records[1])
	assert.Equal(t, []string{"2", "", "5", "", "shop.orders", "1.2"}, records[2])
	assert.Equal(t, "", records[3][0])
	assert.Equal(t, docResult().Content.(search.Unstructured).Text, records[3][3])
	assert.Equal(t, "handbook", records[3][4])
}

func TestExportCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, nil, ExportCSV))
	assert.Equal(t, "_source,_relevance\n", buf.String())
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, []search.SearchResult{ordersResult(), docResult()}, ExportJSON))

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "shop.orders", decoded[0]["source"])
	assert.Equal(t, "structured", decoded[0]["type"])
	assert.Equal(t, 1.2, decoded[0]["relevance"])

	rows := decoded[0]["data"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "shipped", rows[0].(map[string]interface{})["status"])
	assert.Nil(t, rows[1].(map[string]interface{})["status"])

	assert.Equal(t, "unstructured", decoded[1]["type"])
	assert.Equal(t, docResult().Content.(search.Unstructured).Text, decoded[1]["data"].(map[string]interface{})["content"])
	assert.Equal(t, "Refunds", decoded[1]["metadata"].(map[string]interface{})["title"])
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	err := Export(&bytes.Buffer{}, nil, ExportFormat("xml"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = ParseExportFormat("parquet")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	format, err := ParseExportFormat("json")
	require.NoError(t, err)
	assert.Equal(t, ExportJSON, format)
}

func TestExportJSONRejectsEmptyContent(t *testing.T) {
	err := Export(&bytes.Buffer{}, []search.SearchResult{{SourceName: "broken"}}, ExportJSON)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInternal))
}
