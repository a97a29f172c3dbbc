package storage

import (
	"context"
	"time"

	"github.com/kyleking/fedquery/internal/types"
)

// Repository defines the interface for database operations
type Repository interface {
	Initialize(ctx context.Context) error

	// Schema descriptors
	SaveDescriptor(ctx context.Context, desc types.SchemaDescriptor) error
	LoadDescriptors(ctx context.Context, sourceName string) ([]types.SchemaDescriptor, error)
	DeleteDescriptor(ctx context.Context, sourceName, tableName string) error
	DeleteSource(ctx context.Context, sourceName string) (int, error)

	// Documents
	AddDocument(ctx context.Context, doc StoredDocument) error
	GetDocument(ctx context.Context, id string) (*StoredDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	SearchDocuments(ctx context.Context, queryEmbedding []float32, limit int, minScore float64) ([]DocumentMatch, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]StoredDocument, error)

	GetStats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// StoredDocument is an unstructured document as stored in the database
type StoredDocument struct {
	ID         string            `json:"id"`
	SourceName string            `json:"source_name"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DocumentMatch is a document scored against a query embedding
type DocumentMatch struct {
	Document StoredDocument `json:"document"`
	Score    float64        `json:"score"`
}

// Stats represents database statistics
type Stats struct {
	TotalDescriptors int            `json:"total_descriptors"`
	TotalDocuments   int            `json:"total_documents"`
	SourceBreakdown  map[string]int `json:"source_breakdown"`
	LastIndexedAt    time.Time      `json:"last_indexed_at"`
	DatabaseSizeMB   float64        `json:"database_size_mb"`
}
