package videogen

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Pool runs detached settlement tasks on a fixed set of workers with a
// bounded queue. Tasks outlive the request that spawned them; the pool is
// drained on shutdown after the HTTP server stops accepting requests.
type Pool struct {
	tasks  chan func(context.Context)
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewPool(queueSize int, logger zerolog.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{tasks: make(chan func(context.Context), queueSize), logger: logger}
}

// Start launches the worker goroutines. ctx cancellation tells running tasks
// to stop early.
func (p *Pool) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task(ctx)
			}
		}()
	}
}

// Submit enqueues a task; it reports false when the queue is full.
func (p *Pool) Submit(task func(context.Context)) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		p.logger.Error().Msg("settlement queue full, task dropped")
		return false
	}
}

// Stop closes the queue and waits for in-flight tasks. Callers must stop
// submitting first.
func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}
