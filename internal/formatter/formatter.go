package formatter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kyleking/fedquery/internal/cache"
	"github.com/kyleking/fedquery/internal/query"
	"github.com/kyleking/fedquery/internal/search"
	"github.com/kyleking/fedquery/internal/types"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatLong  OutputFormat = "long"
	FormatShort OutputFormat = "short"
)

// DefaultMaxRows caps how many table rows are rendered
const DefaultMaxRows = 20

// Formatter renders search output for the terminal
type Formatter struct {
	maxRows int
	now     func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{maxRows: DefaultMaxRows, now: time.Now}
}

// WithMaxRows returns a copy rendering at most n table rows
func (f *Formatter) WithMaxRows(n int) *Formatter {
	cp := *f
	if n > 0 {
		cp.maxRows = n
	}

	return &cp
}

// FormatResult formats a single ranked result
func (f *Formatter) FormatResult(result search.SearchResult, rank int, format OutputFormat) string {
	switch format {
	case FormatLong:
		return f.formatLong(result, rank)
	default:
		return f.formatShort(result, rank)
	}
}

func (f *Formatter) formatShort(result search.SearchResult, rank int) string {
	detail := ""

	switch c := result.Content.(type) {
	case search.Structured:
		detail = fmt.Sprintf("%s rows", humanize.Comma(int64(c.Table.RowCount())))
	case search.Unstructured:
		detail = firstLine(search.TextPreview(c.Text, 80))
	}

	return fmt.Sprintf("%d. [%s] %s  Score:%.2f  %s",
		rank, result.SourceType(), result.SourceName, result.RelevanceScore, detail)
}

func (f *Formatter) formatLong(result search.SearchResult, rank int) string {
	lines := []string{f.formatShort(result, rank)}

	if c, ok := result.Content.(search.Structured); ok {
		lines = append(lines, "Query: "+c.Query)

		if cached, ok := result.Metadata["cached"].(bool); ok {
			lines = append(lines, fmt.Sprintf("Cached: %t", cached))
		}

		lines = append(lines, f.FormatTable(c.Table))
	} else {
		lines = append(lines, result.Preview)

		if keys := metadataKeys(result.Metadata); len(keys) > 0 {
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, result.Metadata[k]))
			}

			lines = append(lines, "Metadata: "+strings.Join(parts, ", "))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatResponse renders a page of ranked results followed by any leg errors
func (f *Formatter) FormatResponse(resp *search.Response, format OutputFormat) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Found %d results in %.0fms (%d structured, %d unstructured)\n",
		resp.TotalResults, resp.SearchTimeMs, len(resp.StructuredResults), len(resp.UnstructuredResults))

	if resp.Page.TotalPages > 1 {
		fmt.Fprintf(&sb, "Page %d of %d\n", resp.Page.Number, resp.Page.TotalPages)
	}

	offset := (resp.Page.Number - 1) * resp.Page.Size

	for i, result := range resp.RankedResults {
		sb.WriteString("\n")
		sb.WriteString(f.FormatResult(result, offset+i+1, format))
		sb.WriteString("\n")
	}

	if len(resp.RankedResults) == 0 {
		sb.WriteString("\nNo results\n")
	}

	if len(resp.Errors) > 0 {
		sb.WriteString("\nErrors:\n")

		for _, e := range resp.Errors {
			source := e.Leg
			if e.Source != "" {
				source += "/" + e.Source
			}

			fmt.Fprintf(&sb, "  %s (%s): %s\n", source, e.Type, e.Message)
		}
	}

	return sb.String()
}

// FormatQuery renders a generated query and how it was produced
func (f *Formatter) FormatQuery(q query.GeneratedQuery) string {
	if q.Empty() {
		return fmt.Sprintf("No query generated for %q: %s", q.SourceName, q.Explanation)
	}

	tables := strings.Join(q.ReferencedTables, ", ")
	if tables == "" {
		tables = "-"
	}

	return strings.Join([]string{
		"Source: " + q.SourceName,
		"Tables: " + tables,
		fmt.Sprintf("Stage: %s  Confidence: %.2f", q.Stage, q.Confidence),
		"Explanation: " + q.Explanation,
		"",
		q.QueryText,
	}, "\n")
}

// FormatTable renders up to the configured number of rows as a box table
func (f *Formatter) FormatTable(t *types.Table) string {
	if t.RowCount() == 0 {
		return "(0 rows)"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col
	}

	tw.AppendHeader(header)

	for _, row := range t.Head(f.maxRows).Rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			out[i] = types.FormatValue(v)
		}

		tw.AppendRow(out)
	}

	footer := fmt.Sprintf("(%s rows)", humanize.Comma(int64(t.RowCount())))
	if more := t.RowCount() - f.maxRows; more > 0 {
		footer = fmt.Sprintf("(%s rows, %s not shown)", humanize.Comma(int64(t.RowCount())), humanize.Comma(int64(more)))
	}

	return tw.Render() + "\n" + footer
}

// FormatCacheStats renders hit/miss counters and memory use
func (f *Formatter) FormatCacheStats(stats cache.Stats) string {
	return strings.Join([]string{
		"Cache Statistics:",
		fmt.Sprintf("  Entries: %s", humanize.Comma(int64(stats.EntryCount))),
		fmt.Sprintf("  Size: %s", humanize.IBytes(uint64(max(stats.TotalBytes, 0)))),
		fmt.Sprintf("  Hits: %s", humanize.Comma(stats.Hits)),
		fmt.Sprintf("  Misses: %s", humanize.Comma(stats.Misses)),
		fmt.Sprintf("  Evictions: %s", humanize.Comma(stats.Evictions)),
		fmt.Sprintf("  Hit Rate: %.1f%%", stats.HitRate*100),
	}, "\n")
}

// FormatCachedQueries lists live cache entries, newest first
func (f *Formatter) FormatCachedQueries(entries []cache.EntryInfo) string {
	if len(entries) == 0 {
		return "No cached queries"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Key", "Source", "Rows", "Size", "Cached", "Expires In"})

	now := f.now()

	for _, e := range entries {
		tw.AppendRow(table.Row{
			e.Key,
			e.Source,
			humanize.Comma(int64(e.RowCount)),
			humanize.IBytes(uint64(max(e.SizeBytes, 0))),
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
			e.Remaining.Round(time.Second).String(),
		})
	}

	return tw.Render()
}

// FormatSources lists the registered sources with their indexed table counts
func (f *Formatter) FormatSources(sources []string, tableCounts map[string]int) string {
	if len(sources) == 0 {
		return "No sources configured"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Source", "Indexed Tables"})

	for _, s := range sources {
		tw.AppendRow(table.Row{s, tableCounts[s]})
	}

	return tw.Render()
}

func metadataKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}

	return s
}
