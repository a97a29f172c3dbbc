package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/fedquery/internal/embedding"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/pool"
	"github.com/kyleking/fedquery/internal/types"
)

// DefaultSampleRows is how many example rows a descriptor lists
const DefaultSampleRows = 5

// Store persists descriptors between processes
type Store interface {
	SaveDescriptor(ctx context.Context, desc types.SchemaDescriptor) error
	LoadDescriptors(ctx context.Context, sourceName string) ([]types.SchemaDescriptor, error)
	DeleteSource(ctx context.Context, sourceName string) (int, error)
}

// TableDescriber lists and describes the tables of a named source
type TableDescriber interface {
	ListTables(ctx context.Context, source string) ([]string, error)
	DescribeTable(ctx context.Context, source, table string) (types.TableInfo, error)
}

// ScoredDescriptor is a search hit against the index
type ScoredDescriptor struct {
	Descriptor types.SchemaDescriptor `json:"descriptor"`
	Score      float64                `json:"score"`
}

// Index holds one descriptor per (source, table). Entries are replaced
// atomically so a write to one key never blocks readers of another.
type Index struct {
	embedder   embedding.Provider
	store      Store
	entries    sync.Map // key -> types.SchemaDescriptor
	sampleRows int
	now        func() time.Time
	logger     *logging.Logger
}

// Option customizes an Index
type Option func(*Index)

// WithStore persists every indexed descriptor
func WithStore(store Store) Option {
	return func(ix *Index) {
		ix.store = store
	}
}

// WithSampleRows sets how many example rows a descriptor lists
func WithSampleRows(n int) Option {
	return func(ix *Index) {
		if n >= 0 {
			ix.sampleRows = n
		}
	}
}

// WithLogger replaces the process logger
func WithLogger(logger *logging.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// NewIndex creates an empty index using embedder for descriptor and query vectors
func NewIndex(embedder embedding.Provider, opts ...Option) *Index {
	ix := &Index{
		embedder:   embedder,
		sampleRows: DefaultSampleRows,
		now:        time.Now,
		logger:     logging.GetLogger().WithField("component", "schema_index"),
	}

	for _, opt := range opts {
		opt(ix)
	}

	return ix
}

func key(source, table string) string {
	return source + "\x00" + table
}

// Load fills the index from the store
func (ix *Index) Load(ctx context.Context) (int, error) {
	if ix.store == nil {
		return 0, nil
	}

	descriptors, err := ix.store.LoadDescriptors(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to load schema descriptors: %w", err)
	}

	for _, d := range descriptors {
		ix.entries.Store(key(d.SourceName, d.TableName), d)
	}

	ix.logger.WithField("descriptors", len(descriptors)).Debug("Loaded schema index")

	return len(descriptors), nil
}

// IndexTable builds, embeds and upserts the descriptor for one table
func (ix *Index) IndexTable(ctx context.Context, sourceName, tableName string, info types.TableInfo) (types.SchemaDescriptor, error) {
	if sourceName == "" || tableName == "" {
		return types.SchemaDescriptor{}, apperrors.NewValidationError("table", "source and table names are required")
	}

	if info.Name == "" {
		info.Name = tableName
	}

	text := BuildText(sourceName, info, ix.sampleRows)

	vec, err := ix.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return types.SchemaDescriptor{}, apperrors.Unavailable(err, "embedding service")
	}

	desc := NewDescriptor(sourceName, info, text, vec)
	desc.TableName = tableName
	desc.IndexedAt = ix.now().UTC()

	if ix.store != nil {
		if err := ix.store.SaveDescriptor(ctx, desc); err != nil {
			return types.SchemaDescriptor{}, err
		}
	}

	ix.entries.Store(key(sourceName, tableName), desc)

	ix.logger.WithFields(map[string]interface{}{
		"source": sourceName,
		"table":  tableName,
		"rows":   info.RowCount,
	}).Debug("Indexed table")

	return desc, nil
}

// IndexReport summarizes an IndexSource run
type IndexReport struct {
	Source  string                   `json:"source"`
	Indexed []types.SchemaDescriptor `json:"indexed"`
	Failed  map[string]string        `json:"failed,omitempty"`
}

// IndexSource describes and indexes every table of source on the worker pool.
// Per-table failures are collected rather than aborting the run.
func (ix *Index) IndexSource(ctx context.Context, describer TableDescriber, source string, wp *pool.WorkerPool) (*IndexReport, error) {
	tables, err := describer.ListTables(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables for %s: %w", source, err)
	}

	if wp == nil {
		wp = pool.NewWorkerPool(1)
	}

	tasks := make([]pool.Task[types.SchemaDescriptor], len(tables))
	for i, table := range tables {
		tasks[i] = pool.Task[types.SchemaDescriptor]{
			ID: table,
			Func: func(ctx context.Context) (types.SchemaDescriptor, error) {
				info, err := describer.DescribeTable(ctx, source, table)
				if err != nil {
					return types.SchemaDescriptor{}, err
				}

				return ix.IndexTable(ctx, source, table, info)
			},
		}
	}

	report := &IndexReport{Source: source, Failed: make(map[string]string)}

	for _, result := range pool.Execute(ctx, wp, tasks) {
		if result.Error != nil {
			report.Failed[result.ID] = result.Error.Error()
			ix.logger.WithField("table", result.ID).WithError(result.Error).Warn("Failed to index table")

			continue
		}

		report.Indexed = append(report.Indexed, result.Data)
	}

	return report, nil
}

// Search returns the limit descriptors nearest to queryText, optionally
// restricted to sourceFilter
func (ix *Index) Search(ctx context.Context, queryText string, limit int, sourceFilter string) ([]ScoredDescriptor, error) {
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", "must be positive, got %d", limit)
	}

	vec, err := ix.embedder.GenerateEmbedding(ctx, queryText)
	if err != nil {
		return nil, apperrors.Unavailable(err, "embedding service")
	}

	var results []ScoredDescriptor

	ix.entries.Range(func(_, value any) bool {
		d := value.(types.SchemaDescriptor)
		if sourceFilter != "" && d.SourceName != sourceFilter {
			return true
		}

		results = append(results, ScoredDescriptor{
			Descriptor: d,
			Score:      embedding.CosineSimilarity(vec, d.Embedding),
		})

		return true
	})

	sortScored(results)

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Get returns the descriptor for (source, table)
func (ix *Index) Get(source, table string) (types.SchemaDescriptor, bool) {
	v, ok := ix.entries.Load(key(source, table))
	if !ok {
		return types.SchemaDescriptor{}, false
	}

	return v.(types.SchemaDescriptor), true
}

// Descriptors lists descriptors sorted by source then table, all when source is empty
func (ix *Index) Descriptors(source string) []types.SchemaDescriptor {
	var out []types.SchemaDescriptor

	ix.entries.Range(func(_, value any) bool {
		d := value.(types.SchemaDescriptor)
		if source == "" || d.SourceName == source {
			out = append(out, d)
		}

		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceName != out[j].SourceName {
			return out[i].SourceName < out[j].SourceName
		}

		return out[i].TableName < out[j].TableName
	})

	return out
}

// Sources lists the distinct indexed source names
func (ix *Index) Sources() []string {
	seen := make(map[string]bool)

	var sources []string

	for _, d := range ix.Descriptors("") {
		if !seen[d.SourceName] {
			seen[d.SourceName] = true
			sources = append(sources, d.SourceName)
		}
	}

	return sources
}

// HasTable reports whether source has an indexed table named table, ignoring case
func (ix *Index) HasTable(source, table string) bool {
	for _, d := range ix.Descriptors(source) {
		if strings.EqualFold(d.TableName, table) {
			return true
		}
	}

	return false
}

// FindTablesWithColumns returns descriptors that contain every named column
func (ix *Index) FindTablesWithColumns(columns []string, source string) []types.SchemaDescriptor {
	var out []types.SchemaDescriptor

	for _, d := range ix.Descriptors(source) {
		all := true

		for _, c := range columns {
			if !d.HasColumn(c) {
				all = false
				break
			}
		}

		if all {
			out = append(out, d)
		}
	}

	return out
}

// SourceStatistics aggregates descriptor metadata for one source
type SourceStatistics struct {
	Tables           int   `json:"tables"`
	TotalColumns     int   `json:"total_columns"`
	TotalRows        int64 `json:"total_rows"`
	TablesWithPK     int   `json:"tables_with_primary_key"`
	TotalForeignKeys int   `json:"total_foreign_keys"`
}

// Statistics aggregates the index as a whole and per source
type Statistics struct {
	TotalSchemas int                         `json:"total_schemas"`
	TotalSources int                         `json:"total_sources"`
	TotalColumns int                         `json:"total_columns"`
	TotalRows    int64                       `json:"total_rows"`
	Sources      map[string]SourceStatistics `json:"sources"`
}

// Statistics summarizes the indexed descriptors, restricted to source when set
func (ix *Index) Statistics(source string) Statistics {
	stats := Statistics{Sources: make(map[string]SourceStatistics)}

	for _, d := range ix.Descriptors(source) {
		s := stats.Sources[d.SourceName]
		s.Tables++
		s.TotalColumns += len(d.ColumnNames)
		s.TotalRows += d.RowCount
		s.TotalForeignKeys += d.ForeignKeyCount

		if d.HasPrimaryKey {
			s.TablesWithPK++
		}

		stats.Sources[d.SourceName] = s

		stats.TotalSchemas++
		stats.TotalColumns += len(d.ColumnNames)
		stats.TotalRows += d.RowCount
	}

	stats.TotalSources = len(stats.Sources)

	return stats
}

// RemoveSource drops every descriptor of source and returns how many were removed
func (ix *Index) RemoveSource(ctx context.Context, source string) (int, error) {
	if source == "" {
		return 0, apperrors.NewValidationError("source", "name is required")
	}

	if ix.store != nil {
		if _, err := ix.store.DeleteSource(ctx, source); err != nil {
			return 0, err
		}
	}

	removed := 0

	for _, d := range ix.Descriptors(source) {
		ix.entries.Delete(key(d.SourceName, d.TableName))
		removed++
	}

	return removed, nil
}
