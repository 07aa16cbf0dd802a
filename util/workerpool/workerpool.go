package workerpool

import (
	"context"
	"sync"
)

// Task is a named unit of work executed by the pool
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result is the outcome of one Task
type Result struct {
	Name string
	Err  error
}

// WorkerPool is a fixed-size pool of goroutines that execute tasks
type WorkerPool struct {
	numWorkers int
	tasks      chan taskWrapper
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

type taskWrapper struct {
	ctx    context.Context
	task   Task
	result chan error
}

// New creates a new worker pool with the specified number of workers.
// The provided context is the base context for every task.
func New(ctx context.Context, numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		numWorkers: numWorkers,
		tasks:      make(chan taskWrapper, numWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts all worker goroutines
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case tw := <-wp.tasks:
			tw.result <- tw.task.Run(tw.ctx)
		}
	}
}

// Submit queues a task and returns a channel that receives its error.
// If ctx or the pool is done first, the channel receives that context's error.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) <-chan error {
	result := make(chan error, 1)

	taskCtx, cancel := mergeContexts(ctx, wp.ctx)
	tw := taskWrapper{ctx: taskCtx, task: task, result: make(chan error, 1)}

	select {
	case wp.tasks <- tw:
	case <-taskCtx.Done():
		cancel()
		result <- taskCtx.Err()
		return result
	}

	go func() {
		defer cancel()
		select {
		case err := <-tw.result:
			result <- err
		case <-taskCtx.Done():
			result <- taskCtx.Err()
		}
	}()
	return result
}

// SubmitAndWait runs all tasks on the pool and returns their results in
// submission order.
func (wp *WorkerPool) SubmitAndWait(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	chans := make([]<-chan error, len(tasks))
	for i, task := range tasks {
		chans[i] = wp.Submit(ctx, task)
	}

	results := make([]Result, len(tasks))
	for i, ch := range chans {
		results[i] = Result{Name: tasks[i].Name, Err: <-ch}
	}
	return results
}

// Stop cancels the pool and waits for running tasks to return.
// Queued tasks that have not started are abandoned.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.cancel()
		wp.wg.Wait()
	})
}

// mergeContexts returns a context that is done when either parent is done.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
