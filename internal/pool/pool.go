package pool

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WorkerPool runs tasks on a bounded number of goroutines, retrying
// transient failures with exponential backoff
type WorkerPool struct {
	workers     int
	attempts    int
	backoffBase time.Duration
	maxBackoff  time.Duration
	retryable   func(error) bool
}

// Option customizes a WorkerPool
type Option func(*WorkerPool)

// WithRetries sets how many times a retryable failure is retried
func WithRetries(attempts int, base, maxWait time.Duration) Option {
	return func(wp *WorkerPool) {
		wp.attempts = attempts
		wp.backoffBase = base
		wp.maxBackoff = maxWait
	}
}

// WithRetryable replaces the transient error classifier
func WithRetryable(fn func(error) bool) Option {
	return func(wp *WorkerPool) {
		wp.retryable = fn
	}
}

// NewWorkerPool creates a pool with the given concurrency
func NewWorkerPool(workers int, opts ...Option) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	wp := &WorkerPool{
		workers:     workers,
		backoffBase: 100 * time.Millisecond,
		maxBackoff:  2 * time.Second,
		retryable:   IsTransient,
	}

	for _, opt := range opts {
		opt(wp)
	}

	return wp
}

// Task represents a unit of work for the worker pool
type Task[T any] struct {
	ID   string
	Func func(ctx context.Context) (T, error)
}

// Result represents the result of a task execution
type Result[T any] struct {
	ID    string
	Data  T
	Error error
}

// Execute runs tasks and returns one result per task in task order.
// Tasks not started before ctx is done report ctx.Err().
func Execute[T any](ctx context.Context, wp *WorkerPool, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	indexes := make(chan int)

	var wg sync.WaitGroup
	for range min(wp.workers, len(tasks)) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range indexes {
				results[i] = executeTask(ctx, wp, tasks[i])
			}
		}()
	}

	sent := 0

send:
	for ; sent < len(tasks); sent++ {
		select {
		case indexes <- sent:
		case <-ctx.Done():
			break send
		}
	}

	close(indexes)
	wg.Wait()

	for i := sent; i < len(tasks); i++ {
		results[i] = Result[T]{ID: tasks[i].ID, Error: ctx.Err()}
	}

	return results
}

// executeTask executes a single task with backoff on retryable errors
func executeTask[T any](ctx context.Context, wp *WorkerPool, task Task[T]) Result[T] {
	var data T

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = wp.backoffBase
	policy.MaxInterval = wp.maxBackoff

	op := func() error {
		var err error

		data, err = task.Func(ctx)
		if err != nil && (ctx.Err() != nil || !wp.retryable(err)) {
			return backoff.Permanent(err)
		}

		return err
	}

	attempts := wp.attempts
	if attempts < 0 {
		attempts = 0
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts)), ctx)); err != nil {
		return Result[T]{ID: task.ID, Error: err}
	}

	return Result[T]{ID: task.ID, Data: data}
}

// IsTransient reports errors worth retrying against a database or remote service
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "too many connections", "database is locked", "429", "503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
