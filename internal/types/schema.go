package types

import "strings"

// TableInfo describes a table as reported by a structured data source
type TableInfo struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
	RowCount    int64        `json:"row_count"`
	// Sample holds up to a few hundred rows used for statistics and examples.
	Sample *Table `json:"sample,omitempty"`
}

// Column represents a table column
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primary_key"`
}

// ForeignKey links columns of one table to another
type ForeignKey struct {
	Columns         []string `json:"columns"`
	ReferredTable   string   `json:"referred_table"`
	ReferredColumns []string `json:"referred_columns"`
}

// Index represents a table index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ColumnNames returns the column names in declaration order
func (t TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	return names
}

var numericTypeMarkers = []string{
	"INT", "REAL", "FLOAT", "DOUBLE", "DECIMAL", "NUMERIC", "NUMBER", "SERIAL", "HUGEINT",
}

// IsNumericType reports whether a SQL type name holds numbers
func IsNumericType(sqlType string) bool {
	upper := strings.ToUpper(sqlType)
	if strings.Contains(upper, "INTERVAL") || strings.Contains(upper, "POINT") {
		return false
	}

	for _, marker := range numericTypeMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}

	return false
}
