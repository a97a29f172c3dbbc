package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/fedquery/internal/config"
	"github.com/kyleking/fedquery/internal/embedding"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/types"
)

// DuckDBRepository implements the Repository interface using DuckDB
type DuckDBRepository struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
}

// NewDuckDBRepository creates a new DuckDB repository instance with connection pooling
func NewDuckDBRepository(dbPath string) (*DuckDBRepository, error) {
	return NewDuckDBRepositoryFromConfig(config.DefaultConfig().Database, dbPath)
}

// NewDuckDBRepositoryFromConfig creates a repository with pool settings from cfg.
// An empty dbPath opens an in-memory database.
func NewDuckDBRepositoryFromConfig(cfg config.DatabaseConfig, dbPath string) (*DuckDBRepository, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to create database directory")
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(parseDurationOr(cfg.ConnMaxLifetime, 30*time.Minute))
	db.SetConnMaxIdleTime(parseDurationOr(cfg.ConnMaxIdleTime, 5*time.Minute))

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to ping database")
	}

	return &DuckDBRepository{
		db:           db,
		path:         dbPath,
		queryTimeout: cfg.QueryTimeoutDuration(),
	}, nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return d
}

// withTimeout bounds a single repository call by the configured query timeout
func (r *DuckDBRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, r.queryTimeout)
}

// Initialize creates the database schema using migrations
func (r *DuckDBRepository) Initialize(ctx context.Context) error {
	return NewMigrationManager(r.db).MigrateUp(ctx)
}

// SaveDescriptor replaces the descriptor stored for (source, table)
func (r *DuckDBRepository) SaveDescriptor(ctx context.Context, desc types.SchemaDescriptor) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	embeddingJSON, err := json.Marshal(desc.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	columnsJSON, err := json.Marshal(desc.ColumnNames)
	if err != nil {
		return fmt.Errorf("failed to marshal column names: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO schema_descriptors (
		source_name, table_name, description, embedding, column_names,
		row_count, has_primary_key, foreign_key_count, indexed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		desc.SourceName,
		desc.TableName,
		desc.Text,
		string(embeddingJSON),
		string(columnsJSON),
		desc.RowCount,
		desc.HasPrimaryKey,
		desc.ForeignKeyCount,
		desc.IndexedAt.UTC(),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to upsert descriptor")
	}

	return nil
}

// LoadDescriptors returns stored descriptors, all of them when sourceName is empty
func (r *DuckDBRepository) LoadDescriptors(ctx context.Context, sourceName string) ([]types.SchemaDescriptor, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
	SELECT source_name, table_name, description, embedding, column_names,
		row_count, has_primary_key, foreign_key_count, indexed_at
	FROM schema_descriptors`

	var args []interface{}
	if sourceName != "" {
		query += " WHERE source_name = ?"

		args = append(args, sourceName)
	}

	query += " ORDER BY source_name, table_name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to query descriptors")
	}
	defer rows.Close()

	var descriptors []types.SchemaDescriptor

	for rows.Next() {
		var (
			desc                       types.SchemaDescriptor
			embeddingJSON, columnsJSON sql.NullString
		)

		if err := rows.Scan(
			&desc.SourceName, &desc.TableName, &desc.Text, &embeddingJSON, &columnsJSON,
			&desc.RowCount, &desc.HasPrimaryKey, &desc.ForeignKeyCount, &desc.IndexedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan descriptor: %w", err)
		}

		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &desc.Embedding); err != nil {
				return nil, fmt.Errorf("failed to parse embedding for %s: %w", desc.Key(), err)
			}
		}

		if columnsJSON.Valid && columnsJSON.String != "" {
			if err := json.Unmarshal([]byte(columnsJSON.String), &desc.ColumnNames); err != nil {
				return nil, fmt.Errorf("failed to parse column names for %s: %w", desc.Key(), err)
			}
		}

		descriptors = append(descriptors, desc)
	}

	return descriptors, rows.Err()
}

// DeleteDescriptor removes a single table's descriptor
func (r *DuckDBRepository) DeleteDescriptor(ctx context.Context, sourceName, tableName string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM schema_descriptors WHERE source_name = ? AND table_name = ?",
		sourceName, tableName)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to delete descriptor")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "no descriptor for %s.%s", sourceName, tableName)
	}

	return nil
}

// DeleteSource removes every descriptor belonging to sourceName
func (r *DuckDBRepository) DeleteSource(ctx context.Context, sourceName string) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, "DELETE FROM schema_descriptors WHERE source_name = ?", sourceName)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to delete source descriptors")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// AddDocument stores doc, assigning an id and timestamp when missing
func (r *DuckDBRepository) AddDocument(ctx context.Context, doc StoredDocument) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	metadataJSON, _ := json.Marshal(doc.Metadata)
	embeddingJSON, _ := json.Marshal(doc.Embedding)

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO documents (id, source_name, title, content, metadata, embedding, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceName, doc.Title, doc.Content,
		string(metadataJSON), string(embeddingJSON), doc.CreatedAt.UTC(),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to insert document")
	}

	return nil
}

const documentColumns = "id, source_name, title, content, metadata, embedding, created_at"

func scanDocument(scanner interface{ Scan(...interface{}) error }) (*StoredDocument, error) {
	var (
		doc                         StoredDocument
		title                       sql.NullString
		metadataJSON, embeddingJSON sql.NullString
	)

	if err := scanner.Scan(
		&doc.ID, &doc.SourceName, &title, &doc.Content, &metadataJSON, &embeddingJSON, &doc.CreatedAt,
	); err != nil {
		return nil, err
	}

	doc.Title = title.String

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for document %s: %w", doc.ID, err)
		}
	}

	if embeddingJSON.Valid && embeddingJSON.String != "" && embeddingJSON.String != "null" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &doc.Embedding); err != nil {
			return nil, fmt.Errorf("failed to parse embedding for document %s: %w", doc.ID, err)
		}
	}

	return &doc, nil
}

// GetDocument retrieves a document by id
func (r *DuckDBRepository) GetDocument(ctx context.Context, id string) (*StoredDocument, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "document not found: %s", id)
	}

	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to get document")
	}

	return doc, nil
}

// DeleteDocument removes a document by id
func (r *DuckDBRepository) DeleteDocument(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to delete document")
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrTypeNotFound, "document not found: %s", id)
	}

	return nil
}

// ListDocuments lists documents newest first
func (r *DuckDBRepository) ListDocuments(ctx context.Context, limit, offset int) ([]StoredDocument, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to list documents")
	}
	defer rows.Close()

	var docs []StoredDocument

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		docs = append(docs, *doc)
	}

	return docs, rows.Err()
}

// SearchDocuments scores every embedded document by cosine similarity and
// returns the best limit matches at or above minScore
func (r *DuckDBRepository) SearchDocuments(ctx context.Context, queryEmbedding []float32, limit int, minScore float64) ([]DocumentMatch, error) {
	if limit <= 0 {
		return nil, apperrors.NewValidationError("limit", "must be positive, got %d", limit)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE embedding IS NOT NULL AND embedding <> 'null'")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to query documents")
	}
	defer rows.Close()

	var matches []DocumentMatch

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		score := embedding.CosineSimilarity(queryEmbedding, doc.Embedding)
		if score < minScore {
			continue
		}

		doc.Embedding = nil
		matches = append(matches, DocumentMatch{Document: *doc, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}

		return matches[i].Document.ID < matches[j].Document.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// GetStats returns database statistics
func (r *DuckDBRepository) GetStats(ctx context.Context) (*Stats, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	stats := &Stats{SourceBreakdown: make(map[string]int)}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_descriptors").Scan(&stats.TotalDescriptors); err != nil {
		return nil, fmt.Errorf("failed to get descriptor count: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("failed to get document count: %w", err)
	}

	var lastIndexed sql.NullTime

	err := r.db.QueryRowContext(ctx, "SELECT MAX(indexed_at) FROM schema_descriptors").Scan(&lastIndexed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last index time: %w", err)
	}

	if lastIndexed.Valid {
		stats.LastIndexedAt = lastIndexed.Time
	}

	if r.path != "" {
		if info, err := os.Stat(r.path); err == nil {
			stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
		}
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT source_name, COUNT(*) FROM schema_descriptors GROUP BY source_name ORDER BY source_name")
	if err != nil {
		return nil, fmt.Errorf("failed to get source breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			source string
			count  int
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}

		stats.SourceBreakdown[source] = count
	}

	return stats, rows.Err()
}

// Clear removes all descriptors and documents
func (r *DuckDBRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM schema_descriptors"); err != nil {
		return fmt.Errorf("failed to clear schema descriptors: %w", err)
	}

	return nil
}

// DB exposes the underlying handle so the same file can serve as a query source
func (r *DuckDBRepository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *DuckDBRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}

	return nil
}
