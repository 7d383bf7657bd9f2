// Package worker runs independent queries in parallel and rate-limits backend calls.
package worker

import (
	"context"
	"sync"
)

// Task is one unit of work. It receives the pool's context, which is
// cancelled on Shutdown or when the parent context is done.
type Task[R any] func(ctx context.Context) R

// Pool runs tasks on a fixed number of goroutines. Tasks share no state
// through the pool; results arrive in completion order.
type Pool[R any] struct {
	workers   int
	tasks     chan Task[R]
	results   chan R
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPool creates a pool whose tasks run under a child of parent
func NewPool[R any](parent context.Context, workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool[R]{
		workers: workers,
		tasks:   make(chan Task[R], workers*2),
		results: make(chan R, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (p *Pool[R]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool[R]) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			result := task(p.ctx)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a task. It reports false when the pool has been shut down or
// its parent context is done.
func (p *Pool[R]) Submit(task Task[R]) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.tasks <- task:
		return true
	}
}

// Wait closes the queue and collects results until every worker has exited.
// With more tasks than the buffers hold, Submit blocks unless results are
// drained concurrently; Collect does that.
func (p *Pool[R]) Wait() []R {
	close(p.tasks)

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []R
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Collect submits every task from a separate goroutine and gathers the
// results. When the context ends early, tasks not yet queued never run and
// have no result.
func (p *Pool[R]) Collect(tasks []Task[R]) []R {
	go func() {
		defer close(p.tasks)
		for _, t := range tasks {
			if !p.Submit(t) {
				return
			}
		}
	}()

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	results := make([]R, 0, len(tasks))
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Shutdown cancels running tasks and waits for the workers to exit
func (p *Pool[R]) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool[R]) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
