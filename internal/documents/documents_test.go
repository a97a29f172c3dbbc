package documents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/fedquery/internal/embedding"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/storage"
)

type failingEmbedder struct {
	*embedding.HashProvider
}

func (failingEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func newTestIndex(t *testing.T, opts ...Option) (*Index, *storage.DuckDBRepository) {
	t.Helper()

	repo := storage.NewTestDB(t)
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)

	return NewIndex(repo, embedding.NewHashProvider(256), opts...), repo
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    ContentType
	}{
		{name: "html extension", file: "faq.HTML", content: "plain", want: ContentTypeHTML},
		{name: "markdown extension", file: "notes.md", content: "<p>x</p>", want: ContentTypeMarkdown},
		{name: "text extension", file: "a.txt", content: "hi", want: ContentTypeText},
		{name: "sniffed html", content: "  <!DOCTYPE html><html></html>", want: ContentTypeHTML},
		{name: "sniffed paragraph", content: "<p class=\"x\">hi</p>", want: ContentTypeHTML},
		{name: "plain text", content: "refunds take 5 days", want: ContentTypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.file, tt.content))
		})
	}
}

func TestAddAndSearch(t *testing.T) {
	ctx := context.Background()
	// unrelated documents score near zero and may land on either side of it
	idx, _ := newTestIndex(t, WithMinScore(-1))

	refundID, err := idx.Add(ctx, Document{
		SourceName: "handbook",
		Title:      "Refund policy",
		Content:    "Refund requests are approved within 14 days of purchase.",
		Metadata:   map[string]string{"team": "support"},
	})
	require.NoError(t, err)
	assert.Len(t, refundID, 36)

	_, err = idx.Add(ctx, Document{SourceName: "handbook", Content: "Shipping times for international parcels vary by carrier."})
	require.NoError(t, err)

	_, err = idx.Add(ctx, Document{SourceName: "wiki", Content: "The office is closed on public holidays."})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "refund policy", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, refundID, hits[0].Metadata["id"])
	assert.Equal(t, "handbook", hits[0].SourceName)
	assert.Equal(t, "Refund policy", hits[0].Metadata["title"])
	assert.Equal(t, "support", hits[0].Metadata["team"])
	assert.Contains(t, hits[0].Content, "14 days")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	listed, err := idx.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	require.NoError(t, idx.Delete(ctx, refundID))

	hits, err = idx.Search(ctx, "refund policy", 5)
	require.NoError(t, err)

	for _, h := range hits {
		assert.NotEqual(t, refundID, h.Metadata["id"])
	}
}

func TestAddConvertsHTML(t *testing.T) {
	ctx := context.Background()
	idx, repo := newTestIndex(t)

	id, err := idx.Add(ctx, Document{
		SourceName:  "site",
		Content:     "<h1>Returns</h1><p>Items can be returned within <b>30 days</b>.</p>",
		ContentType: ContentTypeHTML,
	})
	require.NoError(t, err)

	doc, err := repo.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Returns", doc.Title)
	assert.Contains(t, doc.Content, "# Returns")
	assert.Contains(t, doc.Content, "**30 days**")
	assert.NotContains(t, doc.Content, "<p>")
	assert.Len(t, doc.Embedding, 256)
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	_, err := idx.Add(ctx, Document{Content: "orphan"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = idx.Add(ctx, Document{SourceName: "s", Content: "   "})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewTestDB(t)
	idx := NewIndex(repo, failingEmbedder{embedding.NewHashProvider(8)}, WithLogger(logging.Discard()))

	_, err := idx.Add(ctx, Document{SourceName: "s", Content: "text"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDependencyUnavailable))

	_, err = idx.Search(ctx, "text", 5)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDependencyUnavailable))

	_, err = idx.Search(ctx, " ", 5)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestMinScore(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t, WithMinScore(0.99))

	_, err := idx.Add(ctx, Document{SourceName: "s", Content: "completely unrelated words"})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "refund policy", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEmbedText(t *testing.T) {
	assert.Equal(t, "Title\n\nbody", embedText("Title", "body"))
	assert.Equal(t, "# Title\nbody", embedText("Title", "# Title\nbody"))
	assert.Len(t, embedText("", string(make([]byte, MaxEmbedChars+10))), MaxEmbedChars)
}
