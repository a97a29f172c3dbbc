package types

import (
	"strings"
	"time"
)

// SchemaDescriptor is the embedded natural-language description of one table.
// It is replaced wholesale on re-index, never updated in place.
type SchemaDescriptor struct {
	SourceName      string    `json:"source_name"`
	TableName       string    `json:"table_name"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"-"`
	ColumnNames     []string  `json:"column_names"`
	RowCount        int64     `json:"row_count"`
	HasPrimaryKey   bool      `json:"has_primary_key"`
	ForeignKeyCount int       `json:"foreign_key_count"`
	IndexedAt       time.Time `json:"indexed_at"`
}

// Key identifies the descriptor within the index
func (d SchemaDescriptor) Key() string {
	return d.SourceName + "." + d.TableName
}

// HasColumn reports whether the table has a column named name, ignoring case
func (d SchemaDescriptor) HasColumn(name string) bool {
	for _, c := range d.ColumnNames {
		if strings.EqualFold(c, name) {
			return true
		}
	}

	return false
}
