package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/types"
)

const (
	// DefaultResultPageSize is the row count of one page of a stored result
	DefaultResultPageSize = 100

	// DefaultResultTTL is how long a stored result stays pageable
	DefaultResultTTL = 10 * time.Minute

	resultKeyPrefix = "results:"
)

// TablePage is one page of a larger tabular result
type TablePage struct {
	ResultID   string       `json:"resultId,omitempty"`
	Table      *types.Table `json:"table"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalRows  int          `json:"totalRows"`
	TotalPages int          `json:"totalPages"`
	HasNext    bool         `json:"hasNext"`
	HasPrev    bool         `json:"hasPrev"`
}

// PaginateTable slices rows [(page-1)*size, page*size) out of t. Pages are
// 1-indexed; a page past the end has no rows.
func PaginateTable(t *types.Table, page, size int) TablePage {
	if page < 1 {
		page = 1
	}

	if size < 1 {
		size = DefaultResultPageSize
	}

	total := t.RowCount()
	pages := (total + size - 1) / size

	start := min((page-1)*size, total)
	end := min(start+size, total)

	return TablePage{
		Table:      &types.Table{Columns: t.Columns, Rows: t.Rows[start:end]},
		Page:       page,
		PageSize:   size,
		TotalRows:  total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// Paginator keeps large results in the cache under an opaque id so callers
// can fetch them one page at a time
type Paginator struct {
	cache    *ResultCache
	pageSize int
	ttl      time.Duration
}

// NewPaginator stores results in c. Non-positive arguments fall back to the defaults.
func NewPaginator(c *ResultCache, pageSize int, ttl time.Duration) *Paginator {
	if pageSize < 1 {
		pageSize = DefaultResultPageSize
	}

	if ttl <= 0 {
		ttl = DefaultResultTTL
	}

	return &Paginator{cache: c, pageSize: pageSize, ttl: ttl}
}

// Store caches t and returns the id its pages are fetched by
func (p *Paginator) Store(ctx context.Context, t *types.Table) (string, error) {
	data, err := EncodeTable(t)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if !p.cache.Set(ctx, resultKeyPrefix+id, Payload{Data: data, RowCount: t.RowCount(), Value: t}, p.ttl) {
		return "", apperrors.Newf(apperrors.ErrTypeValidation,
			"result of %d rows is too large to keep for paging", t.RowCount()).
			WithSuggestion("Lower the query limit or raise FEDQUERY_CACHE_MAX_ENTRY_SIZE_MB")
	}

	return id, nil
}

// Page returns one page of the stored result id. A non-positive size uses
// the paginator's page size.
func (p *Paginator) Page(ctx context.Context, id string, page, size int) (TablePage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return TablePage{}, apperrors.NewValidationError("resultId", "is required")
	}

	payload, ok := p.cache.Get(ctx, resultKeyPrefix+id)
	if !ok {
		return TablePage{}, apperrors.Newf(apperrors.ErrTypeNotFound, "result %s not found or expired", id)
	}

	t, ok := payload.Value.(*types.Table)
	if !ok {
		decoded, err := DecodeTable(payload.Data)
		if err != nil {
			return TablePage{}, err
		}

		t = decoded
	}

	if size < 1 {
		size = p.pageSize
	}

	out := PaginateTable(t, page, size)
	out.ResultID = id

	return out, nil
}
