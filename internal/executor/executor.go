// Package executor runs read-only queries against the configured structured
// data sources and introspects their tables.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/kyleking/fedquery/internal/config"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/sqlsafe"
	"github.com/kyleking/fedquery/internal/types"
)

// DefaultStatisticsSampleRows is how many rows DescribeTable reads for statistics
const DefaultStatisticsSampleRows = 100

// Executor runs queries against named sources
type Executor interface {
	Execute(ctx context.Context, source, query string, rowLimit int) (*types.Table, error)
	ListTables(ctx context.Context, source string) ([]string, error)
	DescribeTable(ctx context.Context, source, table string) (types.TableInfo, error)
	Sources() []string
}

type source struct {
	name    string
	db      *sql.DB
	dialect dialect
}

// SQLExecutor is the database/sql backed Executor
type SQLExecutor struct {
	mu           sync.RWMutex
	sources      map[string]*source
	queryTimeout time.Duration
	sampleRows   int
	logger       *logging.Logger
}

// Option customizes an SQLExecutor
type Option func(*SQLExecutor)

// WithQueryTimeout bounds every statement
func WithQueryTimeout(d time.Duration) Option {
	return func(e *SQLExecutor) {
		e.queryTimeout = d
	}
}

// WithSampleRows sets how many rows DescribeTable samples
func WithSampleRows(n int) Option {
	return func(e *SQLExecutor) {
		if n >= 0 {
			e.sampleRows = n
		}
	}
}

// WithLogger replaces the process logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *SQLExecutor) {
		e.logger = logger
	}
}

// New creates an executor with no sources
func New(opts ...Option) *SQLExecutor {
	e := &SQLExecutor{
		sources:      make(map[string]*source),
		queryTimeout: 30 * time.Second,
		sampleRows:   DefaultStatisticsSampleRows,
		logger:       logging.GetLogger().WithField("component", "executor"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewFromConfig opens every configured source
func NewFromConfig(cfg *config.Config) (*SQLExecutor, error) {
	e := New(
		WithQueryTimeout(cfg.Database.QueryTimeoutDuration()),
		WithSampleRows(cfg.Generator.StatisticsSampleRows),
	)

	for _, src := range cfg.Sources {
		if err := e.Open(src); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	return e, nil
}

// Open connects to src and registers it under src.Name
func (e *SQLExecutor) Open(src config.SourceConfig) error {
	d, err := dialectFor(src.Driver)
	if err != nil {
		return apperrors.NewConfigError(err.Error(), "sources."+src.Name+".driver")
	}

	db, err := sql.Open(d.driverName(), src.DSN)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrTypeDatabase, "failed to open source %s", src.Name)
	}

	e.register(src.Name, db, d)

	e.logger.WithFields(map[string]interface{}{
		"source": src.Name,
		"driver": src.Driver,
	}).Debug("Registered source")

	return nil
}

// Register adds an already opened database under name. driver selects the
// introspection dialect.
func (e *SQLExecutor) Register(name, driver string, db *sql.DB) error {
	d, err := dialectFor(driver)
	if err != nil {
		return apperrors.NewConfigError(err.Error(), "driver")
	}

	e.register(name, db, d)

	return nil
}

func (e *SQLExecutor) register(name string, db *sql.DB, d dialect) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.sources[name]; ok {
		_ = old.db.Close()
	}

	e.sources[name] = &source{name: name, db: db, dialect: d}
}

func (e *SQLExecutor) source(name string) (*source, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	src, ok := e.sources[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrTypeNotFound, "unknown source: %s", name).
			WithSuggestion("Run 'fedquery sources' to list configured sources")
	}

	return src, nil
}

// Sources lists registered source names in order
func (e *SQLExecutor) Sources() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.sources))
	for name := range e.sources {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (e *SQLExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, e.queryTimeout)
}

// Execute runs a read-only query against source. When rowLimit is positive a
// LIMIT clause is appended if the query has none and at most rowLimit rows are
// returned.
func (e *SQLExecutor) Execute(ctx context.Context, sourceName, query string, rowLimit int) (*types.Table, error) {
	if err := sqlsafe.CheckReadOnly(query); err != nil {
		return nil, err
	}

	src, err := e.source(sourceName)
	if err != nil {
		return nil, err
	}

	query = sqlsafe.EnsureLimit(query, rowLimit)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()

	table, err := queryTable(ctx, src.db, query, rowLimit)
	if err != nil {
		if ctxErr := apperrors.FromContext(err, "query on "+sourceName); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, sourceError(err, sourceName, "query on %s failed", sourceName)
	}

	e.logger.WithFields(map[string]interface{}{
		"source":   sourceName,
		"rows":     table.RowCount(),
		"duration": time.Since(start).String(),
	}).Debug("Executed query")

	return table, nil
}

var connectionMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"bad connection",
	"invalid connection",
	"failed to connect",
	"unable to open database",
}

// isConnectionError reports whether err means the source could not be reached
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// sourceError types a failed source operation: unreachable sources are
// dependency_unavailable, everything else is a database error.
func sourceError(err error, sourceName, format string, args ...interface{}) *apperrors.Error {
	if isConnectionError(err) {
		return apperrors.Unavailable(err, "source "+sourceName)
	}

	return apperrors.Wrapf(err, apperrors.ErrTypeDatabase, format, args...)
}

// queryTable scans every row into a Table, stopping after limit rows when positive
func queryTable(ctx context.Context, db *sql.DB, query string, limit int) (*types.Table, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &types.Table{Columns: cols, Rows: [][]interface{}{}}

	for rows.Next() {
		if limit > 0 && len(table.Rows) >= limit {
			break
		}

		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		for i, v := range values {
			values[i] = types.NormalizeValue(v)
		}

		table.Rows = append(table.Rows, values)
	}

	return table, rows.Err()
}

// ListTables lists the base tables of source
func (e *SQLExecutor) ListTables(ctx context.Context, sourceName string) ([]string, error) {
	src, err := e.source(sourceName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tables, err := src.dialect.listTables(ctx, src.db)
	if err != nil {
		return nil, sourceError(err, sourceName, "failed to list tables of %s", sourceName)
	}

	return tables, nil
}

// DescribeTable reads the columns, keys, indexes, row count and a sample of
// table. Key and index metadata is best effort; a failure there is logged
// and the rest of the description is still returned.
func (e *SQLExecutor) DescribeTable(ctx context.Context, sourceName, table string) (types.TableInfo, error) {
	src, err := e.source(sourceName)
	if err != nil {
		return types.TableInfo{}, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	info := types.TableInfo{Name: table}

	info.Columns, err = src.dialect.columns(ctx, src.db, table)
	if err != nil {
		return types.TableInfo{}, sourceError(err, sourceName,
			"failed to read columns of %s.%s", sourceName, table)
	}

	if len(info.Columns) == 0 {
		return types.TableInfo{}, apperrors.Newf(apperrors.ErrTypeNotFound, "table %s.%s not found", sourceName, table)
	}

	logger := e.logger.WithFields(map[string]interface{}{"source": sourceName, "table": table})

	if pk, err := src.dialect.primaryKey(ctx, src.db, table); err != nil {
		logger.WithError(err).Debug("Primary key lookup failed")
	} else {
		info.PrimaryKey = pk
		markPrimaryKey(info.Columns, pk)
	}

	if fks, err := src.dialect.foreignKeys(ctx, src.db, table); err != nil {
		logger.WithError(err).Debug("Foreign key lookup failed")
	} else {
		info.ForeignKeys = fks
	}

	if idxs, err := src.dialect.indexes(ctx, src.db, table); err != nil {
		logger.WithError(err).Debug("Index lookup failed")
	} else {
		info.Indexes = idxs
	}

	quoted := src.dialect.quoteIdent(table)

	if err := src.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&info.RowCount); err != nil {
		return types.TableInfo{}, sourceError(err, sourceName,
			"failed to count rows of %s.%s", sourceName, table)
	}

	if e.sampleRows > 0 && info.RowCount > 0 {
		sample, err := queryTable(ctx, src.db, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoted, e.sampleRows), e.sampleRows)
		if err != nil {
			logger.WithError(err).Warn("Sampling rows failed")
		} else {
			info.Sample = sample
		}
	}

	return info, nil
}

func markPrimaryKey(cols []types.Column, pk []string) {
	for _, name := range pk {
		for i := range cols {
			if cols[i].Name == name {
				cols[i].PrimaryKey = true
				cols[i].Nullable = false
			}
		}
	}
}

// Ping checks that source answers
func (e *SQLExecutor) Ping(ctx context.Context, sourceName string) error {
	src, err := e.source(sourceName)
	if err != nil {
		return err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := src.db.PingContext(ctx); err != nil {
		return apperrors.Unavailable(err, "source "+sourceName)
	}

	return nil
}

// Close closes every source connection
func (e *SQLExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error

	for name, src := range e.sources {
		if err := src.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close source %s: %w", name, err)
		}
	}

	e.sources = make(map[string]*source)

	return firstErr
}
