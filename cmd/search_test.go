package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/search"
)

func TestRunQuery(t *testing.T) {
	a := newIndexedApp(t)

	var buf bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &buf, a, "count orders", "shop"))

	out := buf.String()
	assert.Contains(t, out, "Source: shop")
	assert.Contains(t, out, "Tables: orders")
	assert.Contains(t, out, "SELECT COUNT(*)")
	assert.Contains(t, out, "Stage: rules")
}

func TestRunSearch(t *testing.T) {
	a := newIndexedApp(t)

	var buf bytes.Buffer
	err := runSearch(context.Background(), &buf, a, "count orders", searchFlags{
		options: search.Options{SearchStructured: true},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Found 1 results")
	assert.Contains(t, out, "1. [structured] shop.orders")
	assert.Contains(t, out, "1 rows")
}

func TestRunSearchLongFormat(t *testing.T) {
	a := newIndexedApp(t)

	var buf bytes.Buffer
	err := runSearch(context.Background(), &buf, a, "count orders", searchFlags{
		options: search.Options{SearchStructured: true},
		long:    true,
	})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Query: SELECT COUNT(*)")
	assert.Contains(t, buf.String(), "150")
}

func TestRunSearchExport(t *testing.T) {
	a := newIndexedApp(t)
	path := filepath.Join(t.TempDir(), "results.json")

	var buf bytes.Buffer
	err := runSearch(context.Background(), &buf, a, "count orders", searchFlags{
		options: search.Options{SearchStructured: true},
		export:  "json",
		output:  path,
	})
	require.NoError(t, err)
	assert.Equal(t, "Exported 1 results to "+path+"\n", buf.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "shop.orders", records[0]["source"])

	buf.Reset()
	err = runSearch(context.Background(), &buf, a, "count orders", searchFlags{
		options: search.Options{SearchStructured: true},
		export:  "csv",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "_source,_relevance")
	assert.Contains(t, buf.String(), "150,shop.orders,")
}

func TestRunSearchErrors(t *testing.T) {
	a := newIndexedApp(t)

	tests := []struct {
		name  string
		text  string
		flags searchFlags
	}{
		{
			name:  "unknown export format",
			text:  "count orders",
			flags: searchFlags{options: search.DefaultOptions(), export: "xml"},
		},
		{
			name:  "both legs disabled",
			text:  "count orders",
			flags: searchFlags{options: search.Options{}},
		},
		{
			name:  "empty question",
			text:  "   ",
			flags: searchFlags{options: search.DefaultOptions()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := runSearch(context.Background(), &buf, a, tt.text, tt.flags)

			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation), "got %v", err)
			assert.Empty(t, buf.String())
		})
	}
}

func TestRunSQL(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	opts := sqlOptions{
		source:   "shop",
		sql:      "SELECT id, name FROM customers ORDER BY id",
		maxRows:  10,
		useCache: true,
	}

	var buf bytes.Buffer
	require.NoError(t, runSQL(ctx, &buf, a, opts))
	assert.Contains(t, buf.String(), "Ada Lovelace")
	assert.Contains(t, buf.String(), "(3 rows)")
	assert.NotContains(t, buf.String(), "(cached)")

	buf.Reset()
	require.NoError(t, runSQL(ctx, &buf, a, opts))
	assert.Contains(t, buf.String(), "(cached)")

	buf.Reset()
	opts.useCache = false
	require.NoError(t, runSQL(ctx, &buf, a, opts))
	assert.NotContains(t, buf.String(), "(cached)")
}

func TestRunSQLRejectsWrites(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	err := runSQL(context.Background(), &bytes.Buffer{}, a, sqlOptions{
		source: "shop",
		sql:    "DELETE FROM orders",
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRejectedGeneration))

	err = runSQL(context.Background(), &bytes.Buffer{}, a, sqlOptions{
		source: "nowhere",
		sql:    "SELECT 1",
	})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestRunSources(t *testing.T) {
	a := newIndexedApp(t)

	var buf bytes.Buffer
	require.NoError(t, runSources(context.Background(), &buf, a, true))

	out := buf.String()
	assert.Contains(t, out, "INDEXED TABLES")
	assert.Contains(t, out, "shop")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "shop: ok")
}

func TestRunCacheInvalidate(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, runSQL(ctx, &bytes.Buffer{}, a, sqlOptions{
		source:   "shop",
		sql:      "SELECT COUNT(*) FROM orders",
		useCache: true,
	}))
	assert.Equal(t, 1, a.cache.Stats().EntryCount)

	var buf bytes.Buffer
	require.NoError(t, runCacheInvalidate(ctx, &buf, a, "other:"))
	assert.Equal(t, "Invalidated 0 entries matching \"other:\"\n", buf.String())

	buf.Reset()
	require.NoError(t, runCacheInvalidate(ctx, &buf, a, "shop:"))
	assert.Equal(t, "Invalidated 1 entries matching \"shop:\"\n", buf.String())
	assert.Equal(t, 0, a.cache.Stats().EntryCount)
}

func TestNewAppWithoutCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = false

	a := newTestApp(t, cfg)
	assert.Nil(t, a.cache)
	assert.Nil(t, a.orch.Cache())

	var buf bytes.Buffer
	require.NoError(t, runSQL(context.Background(), &buf, a, sqlOptions{source: "shop", sql: "SELECT 1 AS one", useCache: true}))
	assert.NotContains(t, buf.String(), "(cached)")
}
