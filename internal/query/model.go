package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/llm"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/sqlsafe"
)

// DefaultModelConfidence is the fixed confidence of a model-generated query
const DefaultModelConfidence = 0.8

var codeFence = regexp.MustCompile("(?i)```(?:sql)?")

// ModelPass asks a language model for the query, giving it the matched
// schema descriptions as context
type ModelPass struct {
	service    llm.Service
	confidence float64
}

// NewModelPass creates the model-assisted pass
func NewModelPass(service llm.Service, confidence float64) *ModelPass {
	if confidence <= 0 {
		confidence = DefaultModelConfidence
	}

	return &ModelPass{service: service, confidence: confidence}
}

func (p *ModelPass) Stage() Stage {
	return StageModel
}

// Generate prompts the model and validates what comes back. Empty output,
// a non-read statement, or a query naming none of the matched tables is an
// error so the caller can fall back.
func (p *ModelPass) Generate(ctx context.Context, req Request) (GeneratedQuery, error) {
	raw, err := p.service.Generate(ctx, BuildPrompt(req.Text, req.Matches))
	if err != nil {
		return GeneratedQuery{}, apperrors.Unavailable(err, "language model")
	}

	sql := CleanSQL(raw)
	if sql == "" {
		return GeneratedQuery{}, apperrors.New(apperrors.ErrTypeValidation, "language model returned an empty query")
	}

	if err := sqlsafe.CheckReadOnly(sql); err != nil {
		return GeneratedQuery{}, err
	}

	tables := ExtractTables(sql, req.Matches)
	if len(tables) == 0 {
		return GeneratedQuery{}, apperrors.New(apperrors.ErrTypeValidation,
			"language model query references none of the matched tables")
	}

	return GeneratedQuery{
		QueryText:        sql,
		SourceName:       req.Matches[0].Descriptor.SourceName,
		ReferencedTables: tables,
		Confidence:       p.confidence,
		Explanation:      "Generated using language model " + p.service.Name(),
		Stage:            StageModel,
	}, nil
}

// BuildPrompt renders the generation prompt for text against the matched schemas
func BuildPrompt(text string, matches []schema.ScoredDescriptor) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("Table: %s\n%s", m.Descriptor.TableName, m.Descriptor.Text))
	}

	return fmt.Sprintf(`Given the following database schemas:

%s

Generate a SQL query for the following request:
%q

Requirements:
1. Use only the tables and columns from the provided schemas
2. Return a single read-only SELECT statement that can be executed
3. Include appropriate JOINs if multiple tables are needed
4. Add a reasonable LIMIT if not specified

Return the SQL query only, no explanation.`, strings.Join(blocks, "\n\n"), text)
}

// CleanSQL strips code fences, collapses whitespace and terminates with a semicolon
func CleanSQL(raw string) string {
	sql := codeFence.ReplaceAllString(raw, " ")
	sql = strings.Join(strings.Fields(sql), " ")
	sql = strings.TrimRight(sql, "; ")

	if sql == "" {
		return ""
	}

	return sql + ";"
}

// ExtractTables returns the matched table names that appear in sql, ignoring case
func ExtractTables(sql string, matches []schema.ScoredDescriptor) []string {
	upper := strings.ToUpper(sql)
	seen := make(map[string]bool)

	var tables []string

	for _, m := range matches {
		name := m.Descriptor.TableName
		if seen[name] {
			continue
		}

		if strings.Contains(upper, strings.ToUpper(name)) {
			seen[name] = true
			tables = append(tables, name)
		}
	}

	return tables
}
