package sqlsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/kyleking/fedquery/internal/errors"
)

func TestDestructiveKeyword(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		keyword string
		found   bool
	}{
		{"plain select", "SELECT * FROM customers", "", false},
		{"drop", "DROP TABLE customers", "DROP", true},
		{"lowercase delete", "delete from orders where id = 1", "DELETE", true},
		{"keyword in literal", "SELECT * FROM notes WHERE body = 'please DROP me'", "", false},
		{"keyword in quoted identifier", `SELECT "update" FROM audit`, "", false},
		{"keyword in comment", "SELECT 1 -- truncate later", "", false},
		{"keyword in block comment", "SELECT /* grant */ 1", "", false},
		{"column name containing keyword", "SELECT updated_at, deleted FROM t", "", false},
		{"escaped quote then keyword", "SELECT 'it''s' ; DROP TABLE t", "DROP", true},
		{"stacked statement", "SELECT 1; insert into t values (1)", "INSERT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kw, ok := DestructiveKeyword(tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.keyword, kw)
		})
	}
}

func TestCheckBlocklistType(t *testing.T) {
	err := CheckBlocklist("ALTER TABLE x ADD COLUMN y INT")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRejectedGeneration))
	assert.NoError(t, CheckBlocklist("SELECT COUNT(*) FROM orders;"))
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		errType apperrors.ErrorType
	}{
		{"select", "SELECT * FROM t;", ""},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x", ""},
		{"parenthesized", "(SELECT 1) UNION (SELECT 2)", ""},
		{"empty", "  ", apperrors.ErrTypeValidation},
		{"two statements", "SELECT 1; SELECT 2", apperrors.ErrTypeValidation},
		{"create", "CREATE TABLE t (id INT)", apperrors.ErrTypeValidation},
		{"attach", "ATTACH 'x.db' AS x", apperrors.ErrTypeValidation},
		{"destructive", "DELETE FROM t", apperrors.ErrTypeRejectedGeneration},
		{"semicolon in literal", "SELECT ';' AS s", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadOnly(tt.query)
			if tt.errType == "" {
				assert.NoError(t, err)
				return
			}

			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestEnsureLimit(t *testing.T) {
	tests := []struct {
		query string
		n     int
		want  string
	}{
		{"SELECT * FROM t", 10, "SELECT * FROM t LIMIT 10"},
		{"SELECT * FROM t;", 10, "SELECT * FROM t LIMIT 10"},
		{"SELECT * FROM t LIMIT 5", 10, "SELECT * FROM t LIMIT 5"},
		{"select * from t limit 5;", 10, "select * from t limit 5;"},
		{"SELECT 'limit' AS word", 3, "SELECT 'limit' AS word LIMIT 3"},
		{"SELECT * FROM t", 0, "SELECT * FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, EnsureLimit(tt.query, tt.n))
		})
	}
}
