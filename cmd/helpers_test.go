package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/testutil"
)

// testConfig points the descriptor store at a temp dir and registers the
// fixture database as the shop source
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "fedquery.duckdb")
	cfg.Sources = []config.SourceConfig{{
		Name:   testutil.TestSourceName,
		Driver: "sqlite",
		DSN:    testutil.NewFixtureFile(t),
	}}

	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = a.Close()
	})

	return a
}

// newIndexedApp returns an app whose shop source is already indexed
func newIndexedApp(t *testing.T) *app {
	t.Helper()

	a := newTestApp(t, testConfig(t))

	var buf bytes.Buffer
	require.NoError(t, runIndex(context.Background(), &buf, a, indexOptions{workers: 2}))

	return a
}
