package formatter

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/search"
	"github.com/kyleking/fedquery/internal/types"
)

// ExportFormat selects how ranked results are written out
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

const (
	sourceColumn    = "_source"
	relevanceColumn = "_relevance"
	contentColumn   = "content"
)

// ParseExportFormat validates a user-supplied export format
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case ExportCSV, ExportJSON:
		return ExportFormat(s), nil
	default:
		return "", apperrors.NewValidationError("format", "must be csv or json, got %q", s)
	}
}

// Export writes results to w. CSV stacks every result into one sheet: table
// rows keep their columns, documents fill a content column, and each row is
// tagged with its source and relevance. JSON writes one record per result.
func Export(w io.Writer, results []search.SearchResult, format ExportFormat) error {
	switch format {
	case ExportCSV:
		return exportCSV(w, results)
	case ExportJSON:
		return exportJSON(w, results)
	default:
		return apperrors.NewValidationError("format", "must be csv or json, got %q", format)
	}
}

func exportCSV(w io.Writer, results []search.SearchResult) error {
	var columns []string

	seen := make(map[string]int)
	addColumn := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = len(columns)
			columns = append(columns, name)
		}
	}

	for _, r := range results {
		switch c := r.Content.(type) {
		case search.Structured:
			for _, col := range c.Table.Columns {
				addColumn(col)
			}
		case search.Unstructured:
			addColumn(contentColumn)
		}
	}

	addColumn(sourceColumn)
	addColumn(relevanceColumn)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to write CSV header")
	}

	tag := func(record []string, r search.SearchResult) []string {
		record[seen[sourceColumn]] = r.SourceName
		record[seen[relevanceColumn]] = strconv.FormatFloat(r.RelevanceScore, 'f', -1, 64)

		return record
	}

	for _, r := range results {
		switch c := r.Content.(type) {
		case search.Structured:
			for _, row := range c.Table.Rows {
				record := make([]string, len(columns))

				for i, v := range row {
					if i < len(c.Table.Columns) && v != nil {
						record[seen[c.Table.Columns[i]]] = types.FormatValue(v)
					}
				}

				if err := cw.Write(tag(record, r)); err != nil {
					return apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to write CSV row")
				}
			}
		case search.Unstructured:
			record := make([]string, len(columns))
			record[seen[contentColumn]] = c.Text

			if err := cw.Write(tag(record, r)); err != nil {
				return apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to write CSV row")
			}
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to flush CSV")
	}

	return nil
}

type exportRecord struct {
	Source    string                 `json:"source"`
	Type      search.SourceType      `json:"type"`
	Relevance float64                `json:"relevance"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func exportJSON(w io.Writer, results []search.SearchResult) error {
	records := make([]exportRecord, 0, len(results))

	for _, r := range results {
		rec := exportRecord{
			Source:    r.SourceName,
			Type:      r.SourceType(),
			Relevance: r.RelevanceScore,
			Metadata:  r.Metadata,
		}

		switch c := r.Content.(type) {
		case search.Structured:
			rec.Data = tableRecords(c.Table)
		case search.Unstructured:
			rec.Data = map[string]string{contentColumn: c.Text}
		default:
			return apperrors.Newf(apperrors.ErrTypeInternal, "result %s has no content", r.SourceName)
		}

		records = append(records, rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(records); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeInternal, "failed to encode results")
	}

	return nil
}

// tableRecords converts a table to one map per row keyed by column
func tableRecords(t *types.Table) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, t.RowCount())

	for _, row := range t.Rows {
		rec := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}

		out = append(out, rec)
	}

	return out
}
