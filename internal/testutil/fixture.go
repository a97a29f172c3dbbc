package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var fixtureSchema = []string{
	`CREATE TABLE customers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		city TEXT,
		signup_date TEXT
	)`,
	`CREATE UNIQUE INDEX idx_customers_email ON customers (email)`,
	`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT,
		price REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL REFERENCES customers (id),
		product_id INTEGER REFERENCES products (id),
		amount REAL NOT NULL,
		status TEXT,
		order_date TEXT
	)`,
	`CREATE INDEX idx_orders_customer ON orders (customer_id)`,
	`INSERT INTO customers (id, name, email, city, signup_date) VALUES
		(1, 'Ada Lovelace', 'ada@example.com', 'London', '2024-01-05'),
		(2, 'Grace Hopper', 'grace@example.com', 'New York', '2024-02-11'),
		(3, 'Alan Turing', 'alan@example.com', 'Manchester', '2024-03-20')`,
	`INSERT INTO products (id, name, category, price) VALUES
		(1, 'Keyboard', 'hardware', 49.5),
		(2, 'Monitor', 'hardware', 199),
		(3, 'IDE License', 'software', 89),
		(4, 'Cable', 'hardware', 5.25)`,
}

// NewFixtureDB opens an in-memory SQLite database holding customers, products
// and orders tables. The connection pool is pinned to one connection so every
// query sees the same in-memory database.
func NewFixtureDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	populateFixture(t, db)

	return db
}

// NewFixtureFile writes the fixture tables to a SQLite file under t.TempDir
// and returns its path
func NewFixtureFile(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	defer db.Close()

	populateFixture(t, db)

	return path
}

func populateFixture(t testing.TB, db *sql.DB) {
	t.Helper()

	for _, stmt := range fixtureSchema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	statuses := []string{"shipped", "pending", "cancelled"}

	for i := 1; i <= FixtureOrderCount; i++ {
		_, err := db.Exec(
			"INSERT INTO orders (id, customer_id, product_id, amount, status, order_date) VALUES (?, ?, ?, ?, ?, ?)",
			i,
			(i-1)%FixtureCustomerCount+1,
			(i-1)%FixtureProductCount+1,
			float64(i)*1.5,
			statuses[i%len(statuses)],
			fmt.Sprintf("2024-%02d-%02d", i%12+1, i%28+1),
		)
		require.NoError(t, err)
	}
}
