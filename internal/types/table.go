package types

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Table is a materialized tabular result
type Table struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// RowCount returns the number of rows, tolerating a nil table
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}

	return len(t.Rows)
}

// Head returns a table with at most n rows sharing the same columns
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}

	if n > len(t.Rows) {
		n = len(t.Rows)
	}

	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

// NormalizeValue converts driver values into JSON-stable scalars
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val)
		}

		return float64(val)
	case float32:
		return float64(val)
	case int64, float64, bool, string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ToFloat reports the numeric value of v when it has one
func ToFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FormatValue renders a cell for previews and descriptor text
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
