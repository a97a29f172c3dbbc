package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/kyleking/fedquery/internal/types"
)

const maxSampleValueLen = 50

// BuildText renders the natural-language description of a table that gets
// embedded. The output depends only on its inputs.
func BuildText(sourceName string, info types.TableInfo, sampleRows int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Table: %s in database %s\n", info.Name, sourceName)
	fmt.Fprintf(&sb, "Total rows: %s\n\n", humanize.Comma(info.RowCount))

	sb.WriteString("Columns:\n")

	for _, col := range info.Columns {
		fmt.Fprintf(&sb, "- %s (%s)", col.Name, col.Type)

		if col.PrimaryKey {
			sb.WriteString(" [PRIMARY KEY]")
		}

		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}

		if col.Default != nil && *col.Default != "" {
			fmt.Fprintf(&sb, " DEFAULT %s", *col.Default)
		}

		sb.WriteString("\n")
	}

	if len(info.PrimaryKey) > 0 {
		fmt.Fprintf(&sb, "\nPrimary Key: %s\n", strings.Join(info.PrimaryKey, ", "))
	}

	if len(info.ForeignKeys) > 0 {
		sb.WriteString("\nForeign Keys:\n")

		for _, fk := range info.ForeignKeys {
			fmt.Fprintf(&sb, "- %s -> %s(%s)\n",
				strings.Join(fk.Columns, ", "), fk.ReferredTable, strings.Join(fk.ReferredColumns, ", "))
		}
	}

	if len(info.Indexes) > 0 {
		sb.WriteString("\nIndexes:\n")

		for _, idx := range info.Indexes {
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}

			fmt.Fprintf(&sb, "- %s%s on (%s)\n", unique, idx.Name, strings.Join(idx.Columns, ", "))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(sampleText(info, sampleRows))

	return strings.TrimRight(sb.String(), "\n")
}

// sampleText lists up to maxRows example rows followed by per-column statistics
// computed over the whole sample
func sampleText(info types.TableInfo, maxRows int) string {
	sample := info.Sample
	if sample.RowCount() == 0 {
		return "No sample data available"
	}

	var sb strings.Builder

	head := sample.Head(maxRows)
	fmt.Fprintf(&sb, "Sample data (%d rows):\n", head.RowCount())

	for i, row := range head.Rows {
		parts := make([]string, 0, len(row))

		for j, val := range row {
			if val == nil || j >= len(sample.Columns) {
				continue
			}

			parts = append(parts, sample.Columns[j]+"="+sampleValue(val))
		}

		fmt.Fprintf(&sb, "Row %d: %s\n", i+1, strings.Join(parts, ", "))
	}

	sb.WriteString("\nColumn statistics:\n")

	numeric := numericColumns(info)

	for j, col := range sample.Columns {
		if numeric[col] {
			if line, ok := numericSummary(sample, j); ok {
				fmt.Fprintf(&sb, "- %s: %s\n", col, line)
				continue
			}
		}

		fmt.Fprintf(&sb, "- %s: %d unique values\n", col, distinctCount(sample, j))
	}

	return sb.String()
}

func sampleValue(val interface{}) string {
	if _, ok := val.(string); !ok {
		if _, isNum := types.ToFloat(val); isNum {
			return types.FormatValue(val)
		}
	}

	s := types.FormatValue(val)
	if utf8.RuneCountInString(s) > maxSampleValueLen {
		s = string([]rune(s)[:maxSampleValueLen]) + "..."
	}

	return "'" + s + "'"
}

func numericColumns(info types.TableInfo) map[string]bool {
	numeric := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		numeric[c.Name] = types.IsNumericType(c.Type)
	}

	return numeric
}

func numericSummary(sample *types.Table, col int) (string, bool) {
	var (
		minV, maxV, sum float64
		n               int
	)

	for _, row := range sample.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}

		f, ok := types.ToFloat(row[col])
		if !ok {
			continue
		}

		if n == 0 || f < minV {
			minV = f
		}

		if n == 0 || f > maxV {
			maxV = f
		}

		sum += f
		n++
	}

	if n == 0 {
		return "", false
	}

	return fmt.Sprintf("min=%s, max=%s, mean=%.2f",
		types.FormatValue(minV), types.FormatValue(maxV), sum/float64(n)), true
}

func distinctCount(sample *types.Table, col int) int {
	seen := make(map[string]struct{})

	for _, row := range sample.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}

		seen[types.FormatValue(row[col])] = struct{}{}
	}

	return len(seen)
}

// NewDescriptor assembles the stored descriptor for a table
func NewDescriptor(sourceName string, info types.TableInfo, text string, vec []float32) types.SchemaDescriptor {
	pk := len(info.PrimaryKey) > 0
	for _, c := range info.Columns {
		pk = pk || c.PrimaryKey
	}

	return types.SchemaDescriptor{
		SourceName:      sourceName,
		TableName:       info.Name,
		Text:            text,
		Embedding:       vec,
		ColumnNames:     info.ColumnNames(),
		RowCount:        info.RowCount,
		HasPrimaryKey:   pk,
		ForeignKeyCount: len(info.ForeignKeys),
	}
}

// sortScored orders by score desc, then row count desc, then table and source name asc
func sortScored(results []ScoredDescriptor) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}

		if a.Descriptor.RowCount != b.Descriptor.RowCount {
			return a.Descriptor.RowCount > b.Descriptor.RowCount
		}

		if a.Descriptor.TableName != b.Descriptor.TableName {
			return a.Descriptor.TableName < b.Descriptor.TableName
		}

		return a.Descriptor.SourceName < b.Descriptor.SourceName
	})
}
