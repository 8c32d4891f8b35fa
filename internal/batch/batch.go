// Package batch runs independent per-device units of work on a bounded worker pool and
// collects their outcomes without letting one failure abort the rest.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Outcome classifies a successful unit of work.
type Outcome int

const (
	Written Outcome = iota // a record was produced and stored
	NoData                 // nothing qualified; not an error
	Skipped                // work was not needed
)

// Failure is a unit of work that returned an error.
type Failure struct {
	Key string
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Key, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result collects the outcomes of a batch in submission order.
type Result[T any] struct {
	Items    []*T
	NoData   []string
	Skipped  []string
	Failures []Failure
}

// Processed counts units that completed without error.
func (r *Result[T]) Processed() int {
	return len(r.Items) + len(r.NoData) + len(r.Skipped)
}

// Failed counts units that returned an error.
func (r *Result[T]) Failed() int {
	return len(r.Failures)
}

// Summary is the operator-facing one-line report.
func (r *Result[T]) Summary() string {
	return fmt.Sprintf("processed %d, failed %d", r.Processed(), r.Failed())
}

// Err joins every failure, or returns nil.
func (r *Result[T]) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Fail records a failure that happened outside a job, such as an unresolvable device.
func (r *Result[T]) Fail(key string, err error) {
	r.Failures = append(r.Failures, Failure{Key: key, Err: err})
}

// Merge appends other's outcomes.
func (r *Result[T]) Merge(other *Result[T]) {
	if other == nil {
		return
	}
	r.Items = append(r.Items, other.Items...)
	r.NoData = append(r.NoData, other.NoData...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failures = append(r.Failures, other.Failures...)
}

// Job is one unit of work identified by Key.
type Job[T any] struct {
	Key string
	Run func(ctx context.Context) (*T, Outcome, error)
}

type outcome[T any] struct {
	item *T
	kind Outcome
	err  error
}

// Run executes jobs on at most workers goroutines and returns their outcomes in job order.
// A panicking job is recorded as a failure.
func Run[T any](ctx context.Context, workers int, jobs []Job[T]) *Result[T] {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	outcomes := make([]outcome[T], len(jobs))
	jobQueue := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobQueue {
				outcomes[i] = runOne(ctx, jobs[i])
			}
		}()
	}

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			outcomes[i] = outcome[T]{err: err}
			continue
		}
		jobQueue <- i
	}
	close(jobQueue)
	wg.Wait()

	result := &Result[T]{}
	for i, o := range outcomes {
		key := jobs[i].Key
		switch {
		case o.err != nil:
			result.Failures = append(result.Failures, Failure{Key: key, Err: o.err})
		case o.kind == NoData:
			result.NoData = append(result.NoData, key)
		case o.kind == Skipped:
			result.Skipped = append(result.Skipped, key)
		case o.item != nil:
			result.Items = append(result.Items, o.item)
		default:
			result.NoData = append(result.NoData, key)
		}
	}
	return result
}

func runOne[T any](ctx context.Context, job Job[T]) (o outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome[T]{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	item, kind, err := job.Run(ctx)
	return outcome[T]{item: item, kind: kind, err: err}
}
