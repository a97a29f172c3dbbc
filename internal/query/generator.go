package query

import (
	"context"
	"strings"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/llm"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/sqlsafe"
)

// DefaultTopK is how many schema matches feed generation
const DefaultTopK = 3

// SchemaSearcher finds the descriptors nearest to a question
type SchemaSearcher interface {
	Search(ctx context.Context, queryText string, limit int, sourceFilter string) ([]schema.ScoredDescriptor, error)
}

// Request is the input shared by every pass
type Request struct {
	Text       string
	SourceName string
	// Matches are ordered best first and all belong to SourceName.
	Matches []schema.ScoredDescriptor
}

// Pass is one stage of the generation pipeline
type Pass interface {
	Stage() Stage
	Generate(ctx context.Context, req Request) (GeneratedQuery, error)
}

// Generator runs the passes in order and returns the first acceptable query.
// The rule pass is always last.
type Generator struct {
	schemas SchemaSearcher
	model   Pass
	rules   Pass
	topK    int
	logger  *logging.Logger
}

// Option customizes a Generator
type Option func(*Generator)

// WithModel attempts service before the rule pass
func WithModel(service llm.Service, confidence float64) Option {
	return func(g *Generator) {
		if service != nil {
			g.model = NewModelPass(service, confidence)
		}
	}
}

// WithTopK sets how many schema matches are considered
func WithTopK(k int) Option {
	return func(g *Generator) {
		if k > 0 {
			g.topK = k
		}
	}
}

// WithLogger replaces the process logger
func WithLogger(logger *logging.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator creates a generator over schemas
func NewGenerator(schemas SchemaSearcher, rules RuleConfig, opts ...Option) *Generator {
	g := &Generator{
		schemas: schemas,
		rules:   NewRulePass(rules),
		topK:    DefaultTopK,
		logger:  logging.GetLogger().WithField("component", "query_generator"),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// NewGeneratorFromConfig wires the configured scoring and, when enabled, the model pass
func NewGeneratorFromConfig(schemas SchemaSearcher, cfg config.GeneratorConfig, service llm.Service) *Generator {
	opts := []Option{WithTopK(cfg.TopK)}
	if cfg.UseModel && service != nil {
		opts = append(opts, WithModel(service, cfg.ModelConfidence))
	}

	return NewGenerator(schemas, RuleConfig{
		BaseConfidence: cfg.BaseConfidence,
		Increment:      cfg.PatternIncrement,
		MaxConfidence:  cfg.MaxRuleConfidence,
		DefaultLimit:   cfg.DefaultLimit,
	}, opts...)
}

// ModelEnabled reports whether the model pass is attempted
func (g *Generator) ModelEnabled() bool {
	return g.model != nil
}

// Generate produces a query for text, restricted to sourceName when set.
// Finding no relevant table is not an error: the result is empty with zero
// confidence.
func (g *Generator) Generate(ctx context.Context, text, sourceName string) (GeneratedQuery, error) {
	if strings.TrimSpace(text) == "" {
		return GeneratedQuery{}, apperrors.NewValidationError("query", "cannot be empty")
	}

	matches, err := g.schemas.Search(ctx, text, g.topK, sourceName)
	if err != nil {
		return GeneratedQuery{}, err
	}

	if len(matches) == 0 {
		return GeneratedQuery{
			SourceName:  sourceName,
			Explanation: "No relevant tables found",
			Stage:       StageRules,
		}, nil
	}

	if sourceName == "" {
		sourceName = matches[0].Descriptor.SourceName
	}

	req := Request{Text: text, SourceName: sourceName, Matches: sameSource(matches, sourceName)}
	if len(req.Matches) == 0 {
		return GeneratedQuery{SourceName: sourceName, Explanation: "No relevant tables found", Stage: StageRules}, nil
	}

	logger := g.logger.WithFields(map[string]interface{}{"source": sourceName, "table": req.Matches[0].Descriptor.TableName})

	if g.model != nil {
		q, err := g.model.Generate(ctx, req)
		if err == nil {
			err = sqlsafe.CheckBlocklist(q.QueryText)
		}

		if err == nil {
			q.SourceName = sourceName
			logger.WithField("stage", q.Stage).Debug("Generated query")

			return q, nil
		}

		logger.WithError(err).Warn("Model generation failed, falling back to rules")
	}

	q, err := g.rules.Generate(ctx, req)
	if err != nil {
		return GeneratedQuery{}, err
	}

	if err := sqlsafe.CheckBlocklist(q.QueryText); err != nil {
		return GeneratedQuery{}, err
	}

	q.SourceName = sourceName
	logger.WithFields(map[string]interface{}{"stage": q.Stage, "confidence": q.Confidence}).Debug("Generated query")

	return q, nil
}

func sameSource(matches []schema.ScoredDescriptor, source string) []schema.ScoredDescriptor {
	out := make([]schema.ScoredDescriptor, 0, len(matches))
	for _, m := range matches {
		if m.Descriptor.SourceName == source {
			out = append(out, m)
		}
	}

	return out
}
