package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsNumericType(t *testing.T) {
	tests := []struct {
		sqlType string
		want    bool
	}{
		{"INTEGER", true},
		{"bigint", true},
		{"DECIMAL(10,2)", true},
		{"double precision", true},
		{"VARCHAR", false},
		{"TEXT", false},
		{"INTERVAL", false},
		{"TIMESTAMP", false},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNumericType(tt.sqlType))
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, NormalizeValue(nil))
	assert.Equal(t, "abc", NormalizeValue([]byte("abc")))
	assert.Equal(t, "2024-03-01T12:00:00Z", NormalizeValue(ts))
	assert.Equal(t, int64(7), NormalizeValue(int32(7)))
	assert.Equal(t, 1.5, NormalizeValue(float32(1.5)))
	assert.Equal(t, true, NormalizeValue(true))
}

func TestToFloatAndFormat(t *testing.T) {
	f, ok := ToFloat(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = ToFloat("2.5")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = ToFloat("n/a")
	assert.False(t, ok)

	assert.Equal(t, "NULL", FormatValue(nil))
	assert.Equal(t, "19.99", FormatValue(19.99))
	assert.Equal(t, "42", FormatValue(int64(42)))
}

func TestTableHelpers(t *testing.T) {
	var nilTable *Table
	assert.Equal(t, 0, nilTable.RowCount())
	assert.Nil(t, nilTable.Head(3))

	table := &Table{
		Columns: []string{"id"},
		Rows:    [][]interface{}{{int64(1)}, {int64(2)}, {int64(3)}},
	}
	assert.Equal(t, 3, table.RowCount())
	assert.Equal(t, 2, table.Head(2).RowCount())
	assert.Equal(t, 3, table.Head(10).RowCount())

	info := TableInfo{Columns: []Column{{Name: "id"}, {Name: "name"}}}
	assert.Equal(t, []string{"id", "name"}, info.ColumnNames())
}
