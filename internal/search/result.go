package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kyleking/fedquery/internal/types"
)

// SourceType names the kind of source a result came from
type SourceType string

const (
	SourceStructured   SourceType = "structured"
	SourceUnstructured SourceType = "unstructured"
)

const (
	// PreviewRows is how many table rows a preview shows
	PreviewRows = 3
	// PreviewChars is how much document text a preview shows
	PreviewChars = 200
)

// Content is the payload of a result. It is implemented only by Structured
// and Unstructured.
type Content interface {
	sourceType() SourceType
}

// Structured is a table produced by a generated query
type Structured struct {
	Table *types.Table
	Query string
}

func (Structured) sourceType() SourceType { return SourceStructured }

// Unstructured is a document returned by similarity search
type Unstructured struct {
	Text string
}

func (Unstructured) sourceType() SourceType { return SourceUnstructured }

// SearchResult is one entry of a federated search
type SearchResult struct {
	SourceName     string
	RelevanceScore float64
	Preview        string
	Metadata       map[string]interface{}
	Content        Content
}

// SourceType derives the source kind from the content variant
func (r SearchResult) SourceType() SourceType {
	if r.Content == nil {
		return ""
	}

	return r.Content.sourceType()
}

// RowCount is the number of rows of a structured result, or zero
func (r SearchResult) RowCount() int {
	if s, ok := r.Content.(Structured); ok {
		return s.Table.RowCount()
	}

	return 0
}

type resultJSON struct {
	SourceType     SourceType             `json:"sourceType"`
	SourceName     string                 `json:"sourceName"`
	RelevanceScore float64                `json:"relevanceScore"`
	Preview        string                 `json:"preview"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Table          *types.Table           `json:"table,omitempty"`
	Query          string                 `json:"query,omitempty"`
	Text           string                 `json:"text,omitempty"`
}

func (r SearchResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		SourceType:     r.SourceType(),
		SourceName:     r.SourceName,
		RelevanceScore: r.RelevanceScore,
		Preview:        r.Preview,
		Metadata:       r.Metadata,
	}

	switch c := r.Content.(type) {
	case Structured:
		out.Table = c.Table
		out.Query = c.Query
	case Unstructured:
		out.Text = c.Text
	}

	return json.Marshal(out)
}

// TablePreview summarizes a table as its columns, row count and first rows
func TablePreview(t *types.Table, maxRows int) string {
	if t.RowCount() == 0 {
		return "No data"
	}

	lines := []string{
		"Columns: " + strings.Join(t.Columns, ", "),
		fmt.Sprintf("Rows: %d", t.RowCount()),
		"",
	}

	for i, row := range t.Head(maxRows).Rows {
		cells := make([]string, 0, len(row))
		for j, v := range row {
			col := fmt.Sprintf("col%d", j+1)
			if j < len(t.Columns) {
				col = t.Columns[j]
			}

			cells = append(cells, col+"="+types.FormatValue(v))
		}

		lines = append(lines, fmt.Sprintf("Row %d: %s", i+1, strings.Join(cells, ", ")))
	}

	if more := t.RowCount() - maxRows; more > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more rows", more))
	}

	return strings.Join(lines, "\n")
}

// TextPreview truncates text to maxChars characters, marking the cut
func TextPreview(text string, maxChars int) string {
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)

	return string(runes[:maxChars]) + "..."
}

func newStructuredResult(source string, table *types.Table, query string, tables []string, confidence float64) SearchResult {
	name := "unknown"
	if len(tables) > 0 {
		name = tables[0]
	}

	return SearchResult{
		SourceName:     source + "." + name,
		RelevanceScore: confidence,
		Preview:        TablePreview(table, PreviewRows),
		Metadata: map[string]interface{}{
			"query":        query,
			"row_count":    table.RowCount(),
			"column_count": len(table.Columns),
			"tables":       tables,
		},
		Content: Structured{Table: table, Query: query},
	}
}

func newUnstructuredResult(hit types.DocumentHit) SearchResult {
	return SearchResult{
		SourceName:     hit.SourceName,
		RelevanceScore: hit.Score,
		Preview:        TextPreview(hit.Content, PreviewChars),
		Metadata:       hit.Metadata,
		Content:        Unstructured{Text: hit.Content},
	}
}
