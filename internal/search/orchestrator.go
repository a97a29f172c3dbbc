// Package search is the federated entry point: it runs structured search
// (generated SQL over registered sources) and unstructured document search
// concurrently, then fuses, ranks and paginates the results.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kyleking/fedquery/internal/cache"
	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/executor"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/pool"
	"github.com/kyleking/fedquery/internal/query"
	"github.com/kyleking/fedquery/internal/types"
)

const (
	LegStructured   = "structured"
	LegUnstructured = "unstructured"

	DefaultLegTimeout     = 30 * time.Second
	DefaultLimitPerSource = 100
	DefaultPageSize       = 10
	DefaultConcurrency    = 4
	// DefaultSQLLimit caps raw SQL executed through ExecuteSQL
	DefaultSQLLimit = 1000
)

// Generator turns a question into a query for one source
type Generator interface {
	Generate(ctx context.Context, text, sourceName string) (query.GeneratedQuery, error)
}

// DocumentSearcher is the unstructured search collaborator
type DocumentSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]types.DocumentHit, error)
}

// Metrics receives search events
type Metrics interface {
	SearchCompleted(duration time.Duration, results int)
	LegFailed(leg string, errType string)
	QueryGenerated(stage string)
}

type noopMetrics struct{}

func (noopMetrics) SearchCompleted(time.Duration, int) {}
func (noopMetrics) LegFailed(string, string)           {}
func (noopMetrics) QueryGenerated(string)              {}

// Options selects what a search covers
type Options struct {
	SearchStructured   bool     `json:"searchStructured"`
	SearchUnstructured bool     `json:"searchUnstructured"`
	SourceNames        []string `json:"sourceNames,omitempty"`
	LimitPerSource     int      `json:"limitPerSource"`
	Page               int      `json:"page"`
	PageSize           int      `json:"pageSize"`
}

// DefaultOptions searches every source and the document index
func DefaultOptions() Options {
	return Options{SearchStructured: true, SearchUnstructured: true, Page: 1}
}

// LegError records a failure isolated to one leg or one source
type LegError struct {
	Leg     string              `json:"leg"`
	Source  string              `json:"source,omitempty"`
	Type    apperrors.ErrorType `json:"type"`
	Message string              `json:"message"`
}

// Response is the result of a federated search
type Response struct {
	RequestID           string         `json:"requestId"`
	Query               string         `json:"query"`
	TotalResults        int            `json:"totalResults"`
	SearchTimeMs        float64        `json:"searchTimeMs"`
	StructuredResults   []SearchResult `json:"structuredResults"`
	UnstructuredResults []SearchResult `json:"unstructuredResults"`
	RankedResults       []SearchResult `json:"rankedResults"`
	Errors              []LegError     `json:"errors"`
	Page                Page           `json:"page"`
}

// Orchestrator runs federated searches. The cache is optional; without it
// every structured query is executed.
type Orchestrator struct {
	generator  Generator
	executor   executor.Executor
	documents  DocumentSearcher
	cache      *cache.ResultCache
	pool       *pool.WorkerPool
	slots      *semaphore.Weighted
	boosts     Boosts
	legTimeout time.Duration
	limit      int
	pageSize   int
	cacheTTL   time.Duration
	metrics    Metrics
	logger     *logging.Logger
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithDocuments enables the unstructured leg
func WithDocuments(d DocumentSearcher) Option {
	return func(o *Orchestrator) {
		o.documents = d
	}
}

// WithCache serves structured results through c
func WithCache(c *cache.ResultCache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithCacheTTL sets the lifetime of cached structured results
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cacheTTL = ttl
	}
}

// WithBoosts overrides the row-count boost tiers
func WithBoosts(b Boosts) Option {
	return func(o *Orchestrator) {
		o.boosts = b
	}
}

// WithLegTimeout sets the independent timeout of each leg
func WithLegTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.legTimeout = d
		}
	}
}

// WithConcurrency bounds how many source queries run at once across all
// searches sharing the orchestrator
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}

		o.pool = pool.NewWorkerPool(n)
		o.slots = semaphore.NewWeighted(int64(n))
	}
}

// WithDefaults sets the per-source limit and page size used when a search
// leaves them unset
func WithDefaults(limitPerSource, pageSize int) Option {
	return func(o *Orchestrator) {
		if limitPerSource > 0 {
			o.limit = limitPerSource
		}

		if pageSize > 0 {
			o.pageSize = pageSize
		}
	}
}

// WithMetrics reports search events to m
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger replaces the process logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator over a generator and an executor
func New(generator Generator, exec executor.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator:  generator,
		executor:   exec,
		pool:       pool.NewWorkerPool(DefaultConcurrency),
		slots:      semaphore.NewWeighted(DefaultConcurrency),
		boosts:     DefaultBoosts(),
		legTimeout: DefaultLegTimeout,
		limit:      DefaultLimitPerSource,
		pageSize:   DefaultPageSize,
		metrics:    noopMetrics{},
		logger:     logging.GetLogger().WithField("component", "search"),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// NewFromConfig wires the search section of cfg. docs and resultCache may be nil.
func NewFromConfig(
	cfg *config.Config,
	generator Generator,
	exec executor.Executor,
	docs DocumentSearcher,
	resultCache *cache.ResultCache,
	opts ...Option,
) *Orchestrator {
	base := []Option{
		WithBoosts(BoostsFromConfig(cfg.Search)),
		WithLegTimeout(cfg.Search.LegTimeoutDuration()),
		WithConcurrency(cfg.Search.MaxConcurrentSources),
		WithDefaults(cfg.Search.LimitPerSource, cfg.Search.PageSize),
		WithCacheTTL(cfg.Cache.TTLDuration()),
	}

	if docs != nil {
		base = append(base, WithDocuments(docs))
	}

	if resultCache != nil && cfg.Cache.Enabled {
		base = append(base, WithCache(resultCache))
	}

	return New(generator, exec, append(base, opts...)...)
}

func (o *Orchestrator) normalize(text string, opts Options) (Options, error) {
	if strings.TrimSpace(text) == "" {
		return opts, apperrors.NewValidationError("query", "cannot be empty")
	}

	if !opts.SearchStructured && !opts.SearchUnstructured {
		return opts, apperrors.NewValidationError("options", "at least one of structured or unstructured search must be enabled")
	}

	if opts.LimitPerSource < 0 {
		return opts, apperrors.NewValidationError("limit", "must not be negative, got %d", opts.LimitPerSource)
	}

	if opts.Page < 0 {
		return opts, apperrors.NewValidationError("page", "must not be negative, got %d", opts.Page)
	}

	if opts.PageSize < 0 {
		return opts, apperrors.NewValidationError("page size", "must not be negative, got %d", opts.PageSize)
	}

	if opts.LimitPerSource == 0 {
		opts.LimitPerSource = o.limit
	}

	if opts.Page == 0 {
		opts.Page = 1
	}

	if opts.PageSize == 0 {
		opts.PageSize = o.pageSize
	}

	return opts, nil
}

// legOutcome collects what one leg produced
type legOutcome struct {
	results   []SearchResult
	errors    []LegError
	attempted int
}

// failed reports whether every attempt of the leg failed
func (l legOutcome) failed() bool {
	return l.attempted > 0 && len(l.errors) >= l.attempted
}

// Search runs the requested legs concurrently, each under its own timeout.
// Failures are recorded in Response.Errors; Search itself fails only for
// invalid options or when every requested leg failed.
func (o *Orchestrator) Search(ctx context.Context, text string, opts Options) (*Response, error) {
	start := time.Now()

	opts, err := o.normalize(text, opts)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	logger := o.logger.WithFields(map[string]interface{}{"request_id": requestID, "query": text})

	var structured, unstructured legOutcome

	g, gctx := errgroup.WithContext(ctx)

	if opts.SearchStructured {
		g.Go(func() error {
			legCtx, cancel := context.WithTimeout(gctx, o.legTimeout)
			defer cancel()

			structured = o.searchStructured(legCtx, text, opts)

			return nil
		})
	}

	if opts.SearchUnstructured {
		g.Go(func() error {
			legCtx, cancel := context.WithTimeout(gctx, o.legTimeout)
			defer cancel()

			unstructured = o.searchUnstructured(legCtx, text, opts.LimitPerSource)

			return nil
		})
	}

	_ = g.Wait()

	legErrors := append(structured.errors, unstructured.errors...)
	for _, e := range legErrors {
		o.metrics.LegFailed(e.Leg, string(e.Type))
		logger.WithFields(map[string]interface{}{
			"leg":    e.Leg,
			"source": e.Source,
			"type":   e.Type,
		}).Warn(e.Message)
	}

	structuredFailed := !opts.SearchStructured || structured.failed()
	unstructuredFailed := !opts.SearchUnstructured || unstructured.failed()

	if structuredFailed && unstructuredFailed && len(legErrors) > 0 {
		first := legErrors[0]
		return nil, apperrors.Newf(first.Type, "all search legs failed: %s", first.Message)
	}

	all := make([]SearchResult, 0, len(structured.results)+len(unstructured.results))
	all = append(all, structured.results...)
	all = append(all, unstructured.results...)

	ranked := Fuse(all, o.boosts)
	pageResults, page := Paginate(ranked, opts.Page, opts.PageSize)

	if legErrors == nil {
		legErrors = []LegError{}
	}

	resp := &Response{
		RequestID:           requestID,
		Query:               text,
		TotalResults:        len(all),
		StructuredResults:   nonNil(structured.results),
		UnstructuredResults: nonNil(unstructured.results),
		RankedResults:       pageResults,
		Errors:              legErrors,
		Page:                page,
	}

	elapsed := time.Since(start)
	resp.SearchTimeMs = float64(elapsed.Microseconds()) / 1000
	o.metrics.SearchCompleted(elapsed, resp.TotalResults)

	logger.WithFields(map[string]interface{}{
		"results":  resp.TotalResults,
		"errors":   len(legErrors),
		"duration": elapsed,
	}).Debug("Search completed")

	return resp, nil
}

func nonNil(results []SearchResult) []SearchResult {
	if results == nil {
		return []SearchResult{}
	}

	return results
}

func (o *Orchestrator) candidateSources(opts Options) []string {
	if len(opts.SourceNames) > 0 {
		return opts.SourceNames
	}

	return o.executor.Sources()
}

// searchStructured generates and runs a query per source on the worker pool.
// Sources for which nothing relevant is found contribute no result.
func (o *Orchestrator) searchStructured(ctx context.Context, text string, opts Options) legOutcome {
	sources := o.candidateSources(opts)

	tasks := make([]pool.Task[*SearchResult], len(sources))
	for i, src := range sources {
		tasks[i] = pool.Task[*SearchResult]{
			ID: src,
			Func: func(ctx context.Context) (*SearchResult, error) {
				return o.searchSource(ctx, text, src, opts.LimitPerSource)
			},
		}
	}

	out := legOutcome{attempted: len(sources)}

	for _, res := range pool.Execute(ctx, o.pool, tasks) {
		if res.Error != nil {
			out.errors = append(out.errors, legError(LegStructured, res.ID, res.Error))
			continue
		}

		if res.Data != nil {
			out.results = append(out.results, *res.Data)
		}
	}

	return out
}

func (o *Orchestrator) searchSource(ctx context.Context, text, source string, limit int) (*SearchResult, error) {
	q, err := o.generator.Generate(ctx, text, source)
	if err != nil {
		return nil, err
	}

	if q.Empty() {
		return nil, nil
	}

	o.metrics.QueryGenerated(string(q.Stage))

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Unavailable(err, "source "+source)
	}

	table, cached, err := o.execute(ctx, source, q.QueryText, limit, true)
	o.slots.Release(1)

	if err != nil {
		return nil, err
	}

	if table.RowCount() == 0 {
		return nil, nil
	}

	result := newStructuredResult(source, table, q.QueryText, q.ReferencedTables, q.Confidence)
	result.Metadata["cached"] = cached
	result.Metadata["stage"] = q.Stage
	result.Metadata["explanation"] = q.Explanation

	return &result, nil
}

// execute runs sql through the cache when one is configured. A result that
// could not be serialized is still returned.
func (o *Orchestrator) execute(ctx context.Context, source, sql string, limit int, useCache bool) (*types.Table, bool, error) {
	run := func(ctx context.Context) (*types.Table, error) {
		return o.executor.Execute(ctx, source, sql, limit)
	}

	if o.cache == nil || !useCache {
		table, err := run(ctx)
		return table, false, err
	}

	key := cache.Key(sql, source, map[string]any{"limit": limit})

	table, cached, err := cache.GetOrComputeTable(ctx, o.cache, key, o.cacheTTL, run)
	if err != nil && table != nil && apperrors.IsType(err, apperrors.ErrTypeCacheSerialization) {
		o.logger.WithError(err).WithField("source", source).Warn("Result not cached")
		return table, false, nil
	}

	return table, cached, err
}

func (o *Orchestrator) searchUnstructured(ctx context.Context, text string, limit int) legOutcome {
	out := legOutcome{attempted: 1}

	if o.documents == nil {
		out.errors = append(out.errors, LegError{
			Leg:     LegUnstructured,
			Type:    apperrors.ErrTypeDependencyUnavailable,
			Message: "no document index configured",
		})

		return out
	}

	hits, err := o.documents.Search(ctx, text, limit)
	if err != nil {
		out.errors = append(out.errors, legError(LegUnstructured, "", err))
		return out
	}

	for _, hit := range hits {
		out.results = append(out.results, newUnstructuredResult(hit))
	}

	return out
}

func legError(leg, source string, err error) LegError {
	var typed *apperrors.Error
	if !apperrors.As(err, &typed) {
		if ctxErr := apperrors.FromContext(err, leg+" search"); ctxErr != nil {
			err = ctxErr
		}
	}

	return LegError{
		Leg:     leg,
		Source:  source,
		Type:    apperrors.GetType(err),
		Message: err.Error(),
	}
}

// GenerateQuery exposes query generation without executing anything
func (o *Orchestrator) GenerateQuery(ctx context.Context, text, source string) (query.GeneratedQuery, error) {
	q, err := o.generator.Generate(ctx, text, source)
	if err == nil && !q.Empty() {
		o.metrics.QueryGenerated(string(q.Stage))
	}

	return q, err
}

// ExecuteSQL runs caller-supplied read-only SQL against source, optionally
// through the result cache. The boolean reports a cache hit.
func (o *Orchestrator) ExecuteSQL(ctx context.Context, source, sql string, limit int, useCache bool) (*types.Table, bool, error) {
	if limit <= 0 {
		limit = DefaultSQLLimit
	}

	var (
		table  *types.Table
		cached bool
	)

	err := logging.LoggerMiddleware(o.logger.WithField("source", source), "execute_sql", func() error {
		var err error
		table, cached, err = o.execute(ctx, source, sql, limit, useCache)

		return err
	})

	return table, cached, err
}

// Sources lists the registered structured sources
func (o *Orchestrator) Sources() []string {
	return o.executor.Sources()
}

// Cache returns the result cache, or nil when caching is off
func (o *Orchestrator) Cache() *cache.ResultCache {
	return o.cache
}
