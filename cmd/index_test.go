package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/testutil"
)

func TestRunIndex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	var buf bytes.Buffer
	require.NoError(t, runIndex(ctx, &buf, a, indexOptions{workers: 2}))

	assert.Equal(t, "shop: indexed 3 tables\n", buf.String())
	assert.Len(t, a.schemas.Descriptors(testutil.TestSourceName), 3)

	buf.Reset()
	require.NoError(t, runIndex(ctx, &buf, a, indexOptions{sources: []string{"shop"}, workers: 1, reset: true}))
	assert.Equal(t, "shop: indexed 3 tables\n", buf.String())
	assert.Len(t, a.schemas.Descriptors(testutil.TestSourceName), 3)

	require.NoError(t, a.Close())

	reopened := newTestApp(t, cfg)
	assert.Len(t, reopened.schemas.Descriptors(testutil.TestSourceName), 3, "descriptors persist across runs")
}

func TestRunIndexUnknownSource(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	var buf bytes.Buffer
	err := runIndex(context.Background(), &buf, a, indexOptions{sources: []string{"missing"}})

	require.Error(t, err)
	assert.Contains(t, buf.String(), "missing:")
}

func TestRunIndexWithoutSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = nil

	a := newTestApp(t, cfg)

	err := runIndex(context.Background(), &bytes.Buffer{}, a, indexOptions{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestPrintIndexReport(t *testing.T) {
	var buf bytes.Buffer

	printIndexReport(&buf, &schema.IndexReport{
		Source:  "warehouse",
		Indexed: nil,
		Failed:  map[string]string{"b": "permission denied", "a": "timeout"},
	})

	assert.Equal(t, "warehouse: indexed 0 tables, 2 failed\n  a: timeout\n  b: permission denied\n", buf.String())
}
