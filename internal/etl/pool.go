package etl

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// workerPool fans symbol loads out over a fixed set of goroutines so one
// slow upstream fetch does not serialize the whole run.
type workerPool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   atomic.Bool
}

// newWorkerPool creates a pool with the given number of workers, defaulting
// to runtime.NumCPU() when workers is 0.
func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		workers:   workers,
		taskQueue: make(chan func(), workers*4),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *workerPool) start() {
	if p.running.Swap(true) {
		return // Already running
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			task()
		}
	}
}

// submit blocks until the task is queued or the pool shuts down.
func (p *workerPool) submit(task func()) bool {
	if !p.running.Load() {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	}
}

// stop drains queued tasks and waits for workers to finish.
func (p *workerPool) stop() {
	if !p.running.Swap(false) {
		return // Not running
	}

	close(p.taskQueue)
	p.wg.Wait()
	p.cancel()
}
