// Package documents is the unstructured side of federated search: it ingests
// text, Markdown and HTML documents into the embedded document store and
// answers similarity searches over them.
package documents

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"

	"github.com/kyleking/fedquery/internal/embedding"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/storage"
	"github.com/kyleking/fedquery/internal/types"
)

// ContentType identifies how document content is encoded
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeHTML     ContentType = "html"
)

// MaxEmbedChars caps how much of a document is embedded
const MaxEmbedChars = 8000

// Store is the persistence the index needs
type Store interface {
	AddDocument(ctx context.Context, doc storage.StoredDocument) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, limit, offset int) ([]storage.StoredDocument, error)
	SearchDocuments(ctx context.Context, queryEmbedding []float32, limit int, minScore float64) ([]storage.DocumentMatch, error)
}

// Document is the input to Add
type Document struct {
	SourceName  string            `json:"source_name"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Index embeds and searches documents
type Index struct {
	store    Store
	embedder embedding.Provider
	minScore float64
	logger   *logging.Logger
	now      func() time.Time
}

// Option customizes an Index
type Option func(*Index)

// WithMinScore drops hits scoring below score
func WithMinScore(score float64) Option {
	return func(i *Index) {
		i.minScore = score
	}
}

// WithLogger replaces the process logger
func WithLogger(logger *logging.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// NewIndex creates a document index over store
func NewIndex(store Store, embedder embedding.Provider, opts ...Option) *Index {
	i := &Index{
		store:    store,
		embedder: embedder,
		logger:   logging.GetLogger().WithField("component", "documents"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

var (
	markdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*\s*$`)
	htmlSniff       = regexp.MustCompile(`(?i)^\s*(<!doctype html|<html|<body|<div|<p[ >]|<h[1-6][ >])`)
)

// DetectContentType infers the content type from a file name, falling back to
// sniffing the content
func DetectContentType(name, content string) ContentType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return ContentTypeHTML
	case ".md", ".markdown":
		return ContentTypeMarkdown
	case ".txt", ".text":
		return ContentTypeText
	}

	if htmlSniff.MatchString(content) {
		return ContentTypeHTML
	}

	return ContentTypeText
}

// Add normalizes, embeds and stores doc, returning its new id. HTML is
// converted to Markdown first; a missing title is taken from the first
// heading.
func (i *Index) Add(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.SourceName) == "" {
		return "", apperrors.NewValidationError("source", "cannot be empty")
	}

	content, err := normalize(doc.Content, doc.ContentType)
	if err != nil {
		return "", err
	}

	if content == "" {
		return "", apperrors.NewValidationError("content", "cannot be empty")
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		if m := markdownHeading.FindStringSubmatch(content); m != nil {
			title = m[1]
		}
	}

	vec, err := i.embedder.GenerateEmbedding(ctx, embedText(title, content))
	if err != nil {
		return "", apperrors.Unavailable(err, "embedding provider")
	}

	id := uuid.New().String()

	stored := storage.StoredDocument{
		ID:         id,
		SourceName: doc.SourceName,
		Title:      title,
		Content:    content,
		Metadata:   doc.Metadata,
		Embedding:  vec,
		CreatedAt:  i.now(),
	}

	if err := i.store.AddDocument(ctx, stored); err != nil {
		return "", err
	}

	i.logger.WithFields(map[string]interface{}{
		"id":     id,
		"source": doc.SourceName,
		"chars":  len(content),
	}).Debug("Added document")

	return id, nil
}

func normalize(content string, ct ContentType) (string, error) {
	if ct == "" {
		ct = DetectContentType("", content)
	}

	if ct == ContentTypeHTML {
		md, err := htmltomarkdown.ConvertString(content)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrTypeValidation, "failed to convert HTML document")
		}

		content = md
	}

	return strings.TrimSpace(content), nil
}

func embedText(title, content string) string {
	text := content
	if title != "" && !strings.Contains(content, title) {
		text = title + "\n\n" + content
	}

	if len(text) > MaxEmbedChars {
		text = text[:MaxEmbedChars]
	}

	return text
}

// Search returns the documents most similar to text, best first
func (i *Index) Search(ctx context.Context, text string, limit int) ([]types.DocumentHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("query", "cannot be empty")
	}

	vec, err := i.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, apperrors.Unavailable(err, "embedding provider")
	}

	matches, err := i.store.SearchDocuments(ctx, vec, limit, i.minScore)
	if err != nil {
		return nil, err
	}

	hits := make([]types.DocumentHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, toHit(m))
	}

	return hits, nil
}

func toHit(m storage.DocumentMatch) types.DocumentHit {
	meta := make(map[string]interface{}, len(m.Document.Metadata)+2)
	for k, v := range m.Document.Metadata {
		meta[k] = v
	}

	meta["id"] = m.Document.ID
	if m.Document.Title != "" {
		meta["title"] = m.Document.Title
	}

	return types.DocumentHit{
		SourceName: m.Document.SourceName,
		Content:    m.Document.Content,
		Score:      m.Score,
		Metadata:   meta,
	}
}

// List returns stored documents, newest first
func (i *Index) List(ctx context.Context, limit, offset int) ([]storage.StoredDocument, error) {
	return i.store.ListDocuments(ctx, limit, offset)
}

// Delete removes a document by id
func (i *Index) Delete(ctx context.Context, id string) error {
	return i.store.DeleteDocument(ctx, id)
}
