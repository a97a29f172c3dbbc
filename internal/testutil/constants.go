// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestEmbeddingDimensions matches the production embedding default
	TestEmbeddingDimensions = 384
)

// Fixture database contents
const (
	// TestSourceName is the source name the fixture database is registered under
	TestSourceName = "shop"

	// FixtureCustomerCount is the number of rows in the fixture customers table
	FixtureCustomerCount = 3

	// FixtureOrderCount is the number of rows in the fixture orders table
	FixtureOrderCount = 150

	// FixtureProductCount is the number of rows in the fixture products table
	FixtureProductCount = 4
)
