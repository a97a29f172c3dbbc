package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kyleking/fedquery/internal/types"
)

// MockExecutor implements executor.Executor for testing with error injection
type MockExecutor struct {
	mu sync.RWMutex

	results    map[string]*types.Table
	tables     map[string][]types.TableInfo
	errors     map[string]error
	delay      time.Duration
	queries    map[string][]string
	callCounts map[string]int
}

// MockOption is a functional option for configuring MockExecutor
type MockOption func(*MockExecutor)

// WithResult sets the table every query against source returns
func WithResult(source string, table *types.Table) MockOption {
	return func(m *MockExecutor) {
		m.results[source] = table
	}
}

// WithTables sets the tables ListTables and DescribeTable report for source
func WithTables(source string, tables ...types.TableInfo) MockOption {
	return func(m *MockExecutor) {
		m.tables[source] = tables
	}
}

// WithError makes every call against source fail with err
func WithError(source string, err error) MockOption {
	return func(m *MockExecutor) {
		m.errors[source] = err
	}
}

// WithDelay makes Execute block for d or until its context ends
func WithDelay(d time.Duration) MockOption {
	return func(m *MockExecutor) {
		m.delay = d
	}
}

// NewMockExecutor creates a new mock executor with the given options
func NewMockExecutor(opts ...MockOption) *MockExecutor {
	mock := &MockExecutor{
		results:    make(map[string]*types.Table),
		tables:     make(map[string][]types.TableInfo),
		errors:     make(map[string]error),
		queries:    make(map[string][]string),
		callCounts: make(map[string]int),
	}

	for _, opt := range opts {
		opt(mock)
	}

	return mock
}

func (m *MockExecutor) record(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// Execute returns the configured result for source, capped at rowLimit rows
func (m *MockExecutor) Execute(ctx context.Context, source, query string, rowLimit int) (*types.Table, error) {
	m.mu.Lock()
	m.callCounts["Execute"]++
	m.queries[source] = append(m.queries[source], query)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, exists := m.errors[source]; exists {
		return nil, err
	}

	table, exists := m.results[source]
	if !exists {
		return &types.Table{Columns: []string{}, Rows: [][]interface{}{}}, nil
	}

	if rowLimit > 0 {
		return table.Head(rowLimit), nil
	}

	return table, nil
}

// ListTables returns the configured table names for source
func (m *MockExecutor) ListTables(_ context.Context, source string) ([]string, error) {
	m.record("ListTables")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, exists := m.errors[source]; exists {
		return nil, err
	}

	names := make([]string, 0, len(m.tables[source]))
	for _, t := range m.tables[source] {
		names = append(names, t.Name)
	}

	return names, nil
}

// DescribeTable returns the configured description of source.table
func (m *MockExecutor) DescribeTable(_ context.Context, source, table string) (types.TableInfo, error) {
	m.record("DescribeTable")

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, exists := m.errors[source+"."+table]; exists {
		return types.TableInfo{}, err
	}

	for _, t := range m.tables[source] {
		if t.Name == table {
			return t, nil
		}
	}

	return types.TableInfo{}, fmt.Errorf("table %s.%s not found", source, table)
}

// Sources lists every source with a result or tables configured
func (m *MockExecutor) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for s := range m.results {
		seen[s] = true
	}

	for s := range m.tables {
		seen[s] = true
	}

	names := make([]string, 0, len(seen))
	for s := range seen {
		names = append(names, s)
	}

	sort.Strings(names)

	return names
}

// Queries returns the queries executed against source
func (m *MockExecutor) Queries(source string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.queries[source]...)
}

// GetCallCount returns the number of times a method was called
func (m *MockExecutor) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.callCounts[method]
}

// MockDocumentSearcher implements search.DocumentSearcher for testing
type MockDocumentSearcher struct {
	mu sync.Mutex

	Hits  []types.DocumentHit
	Err   error
	Delay time.Duration

	calls int
}

// Search returns the configured hits, at most limit of them
func (m *MockDocumentSearcher) Search(ctx context.Context, _ string, limit int) ([]types.DocumentHit, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}

	if limit > 0 && len(m.Hits) > limit {
		return m.Hits[:limit], nil
	}

	return m.Hits, nil
}

// Calls returns how many searches ran
func (m *MockDocumentSearcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// MockLLM implements llm.Service returning a fixed response or error
type MockLLM struct {
	mu sync.Mutex

	Response string
	Err      error
	Delay    time.Duration

	prompts []string
}

// Generate records the prompt and returns the configured response
func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Err != nil {
		return "", m.Err
	}

	return m.Response, nil
}

// Name identifies the mock
func (m *MockLLM) Name() string {
	return "mock"
}

// Prompts returns every prompt received
func (m *MockLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.prompts...)
}

// ErrorInjector provides systematic error injection for testing
type ErrorInjector struct {
	errors map[string]error
	after  map[string]int
	counts map[string]int
	mu     sync.Mutex
}

// NewErrorInjector creates a new error injector
func NewErrorInjector() *ErrorInjector {
	return &ErrorInjector{
		errors: make(map[string]error),
		after:  make(map[string]int),
		counts: make(map[string]int),
	}
}

// InjectError configures an error to be returned for a specific key
func (e *ErrorInjector) InjectError(key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[key] = err
	delete(e.after, key)
}

// InjectErrorAfterN configures an error to be returned after N successful calls
func (e *ErrorInjector) InjectErrorAfterN(key string, n int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors[key] = err
	e.after[key] = n
}

// ShouldError checks if an error should be returned for the given key
func (e *ErrorInjector) ShouldError(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counts[key]++

	err, exists := e.errors[key]
	if !exists {
		return nil
	}

	if n, ok := e.after[key]; ok && e.counts[key] <= n {
		return nil
	}

	return err
}

// GetCount returns the number of times a key was checked
func (e *ErrorInjector) GetCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[key]
}
