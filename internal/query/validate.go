package query

import (
	"context"
	"strings"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/sqlsafe"
)

// TableLister lists the live tables of a source
type TableLister interface {
	ListTables(ctx context.Context, source string) ([]string, error)
}

// ValidateQuery checks a generated query before execution: it must be a
// single read statement and every referenced table must exist in its source.
func ValidateQuery(ctx context.Context, q GeneratedQuery, lister TableLister) error {
	if q.Empty() {
		return apperrors.NewValidationError("query", "cannot be empty")
	}

	if err := sqlsafe.CheckReadOnly(q.QueryText); err != nil {
		return err
	}

	if q.SourceName == "" || len(q.ReferencedTables) == 0 || lister == nil {
		return nil
	}

	tables, err := lister.ListTables(ctx, q.SourceName)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[strings.ToLower(t)] = true
	}

	for _, t := range q.ReferencedTables {
		if !known[strings.ToLower(t)] {
			return apperrors.Newf(apperrors.ErrTypeNotFound, "table %q not found in source %s", t, q.SourceName)
		}
	}

	return nil
}
