package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// TaskError accumulates the failures of a bulk load.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	}
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return "multiple errors: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *TaskError) errOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BulkLoader registers large wallet sets with a fixed pool of workers.
type BulkLoader struct {
	registry *Registry
	workers  int
}

// NewBulkLoader returns a loader running the given number of workers.
func NewBulkLoader(registry *Registry, workers int) *BulkLoader {
	if workers <= 0 {
		workers = 4
	}
	return &BulkLoader{registry: registry, workers: workers}
}

// LoadWallets registers every input. Individual failures are collected into a
// *TaskError; cancellation aborts the load and is returned as is.
func (l *BulkLoader) LoadWallets(ctx context.Context, inputs []WalletInput) error {
	return l.run(ctx, len(inputs), func(idx int) error {
		_, err := l.registry.Register(ctx, inputs[idx])
		return err
	})
}

func (l *BulkLoader) run(ctx context.Context, total int, fn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexCh {
				if err := fn(idx); err != nil {
					errCh <- err
				}
			}
		}()
	}

feed:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	var taskErr TaskError
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.add(err)
	}
	return taskErr.errOrNil()
}
