package testutil

import (
	"time"

	"github.com/kyleking/fedquery/internal/types"
)

// TableInfoOption is a functional option for configuring test table descriptions
type TableInfoOption func(*types.TableInfo)

// WithColumns replaces the columns. Each name becomes a TEXT column unless
// given as "name:TYPE".
func WithColumns(specs ...string) TableInfoOption {
	return func(t *types.TableInfo) {
		t.Columns = t.Columns[:0]

		for _, spec := range specs {
			t.Columns = append(t.Columns, parseColumnSpec(spec))
		}
	}
}

// WithPrimaryKey marks the named columns as the primary key
func WithPrimaryKey(cols ...string) TableInfoOption {
	return func(t *types.TableInfo) {
		t.PrimaryKey = cols

		for i := range t.Columns {
			for _, c := range cols {
				if t.Columns[i].Name == c {
					t.Columns[i].PrimaryKey = true
					t.Columns[i].Nullable = false
				}
			}
		}
	}
}

// WithForeignKey adds a single-column foreign key
func WithForeignKey(column, referredTable, referredColumn string) TableInfoOption {
	return func(t *types.TableInfo) {
		t.ForeignKeys = append(t.ForeignKeys, types.ForeignKey{
			Columns:         []string{column},
			ReferredTable:   referredTable,
			ReferredColumns: []string{referredColumn},
		})
	}
}

// WithRowCount sets the reported row count
func WithRowCount(n int64) TableInfoOption {
	return func(t *types.TableInfo) {
		t.RowCount = n
	}
}

// WithSample sets the sampled rows, using the table's column names
func WithSample(rows ...[]interface{}) TableInfoOption {
	return func(t *types.TableInfo) {
		t.Sample = &types.Table{Columns: t.ColumnNames(), Rows: rows}
	}
}

func parseColumnSpec(spec string) types.Column {
	for i := len(spec) - 1; i >= 0; i-- {
		if spec[i] == ':' {
			return types.Column{Name: spec[:i], Type: spec[i+1:], Nullable: true}
		}
	}

	return types.Column{Name: spec, Type: "TEXT", Nullable: true}
}

// NewTestTableInfo creates a table description with an id primary key and a
// name column, then applies opts
func NewTestTableInfo(name string, opts ...TableInfoOption) types.TableInfo {
	info := types.TableInfo{
		Name: name,
		Columns: []types.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: "TEXT", Nullable: true},
		},
		PrimaryKey: []string{"id"},
		RowCount:   10,
	}

	for _, opt := range opts {
		opt(&info)
	}

	return info
}

// NewTestDescriptor creates a stored descriptor for source.table with the given columns
func NewTestDescriptor(source, table string, rowCount int64, columns ...string) types.SchemaDescriptor {
	if len(columns) == 0 {
		columns = []string{"id", "name"}
	}

	return types.SchemaDescriptor{
		SourceName:    source,
		TableName:     table,
		Text:          "Table: " + table + " in database " + source,
		ColumnNames:   columns,
		RowCount:      rowCount,
		HasPrimaryKey: true,
		IndexedAt:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// NewTestTable builds a table from columns and rows
func NewTestTable(columns []string, rows ...[]interface{}) *types.Table {
	if rows == nil {
		rows = [][]interface{}{}
	}

	return &types.Table{Columns: columns, Rows: rows}
}

// NewSequentialTable builds a single-column table holding 1..n
func NewSequentialTable(column string, n int) *types.Table {
	rows := make([][]interface{}, n)
	for i := range rows {
		rows[i] = []interface{}{int64(i + 1)}
	}

	return &types.Table{Columns: []string{column}, Rows: rows}
}
