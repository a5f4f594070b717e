// Package fanout runs one action per input concurrently and collects every
// outcome. Unlike a fail-fast worker pool, one input's failure never cancels
// the others; callers get the full result set and report partial failure.
package fanout

import (
	"context"
	"sync"
)

// Result pairs an input with the error its action produced (nil on success).
type Result[T any] struct {
	Input T
	Err   error
}

// Run applies fn to every input using at most workerLimit goroutines.
// Results come back in input order. A cancelled context marks the remaining
// inputs with the context error instead of running them.
func Run[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) []Result[T] {
	results := make([]Result[T], len(inputs))
	for i := range inputs {
		results[i].Input = inputs[i]
	}
	if len(inputs) == 0 {
		return results
	}

	if workerLimit <= 0 {
		workerLimit = 1
	}
	if workerLimit > len(inputs) {
		workerLimit = len(inputs)
	}

	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workerLimit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				results[i].Err = fn(ctx, inputs[i])
			}
		}()
	}

	for i := range inputs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

// Failures counts the results that carry an error.
func Failures[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
