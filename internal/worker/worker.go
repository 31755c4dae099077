package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

// Pool runs background flush work (cache write-backs, cascade
// cleanups) off the connection-handling path. The mutex orders Submit
// against Shutdown closing the queue, so a late Submit drops the task
// instead of sending on a closed channel.
type Pool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	log       zerolog.Logger
}

func NewPool(size int, log zerolog.Logger) *Pool {
	p := &Pool{
		taskQueue: make(chan Task, 1000), // Buffer for 1000 pending tasks
		log:       log,
	}

	// Start the workers
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.startWorker()
	}

	return p
}

func (p *Pool) startWorker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		if err := task(context.Background()); err != nil {
			p.log.Error().Err(err).Msg("worker task failed")
		}
	}
}

func (p *Pool) Submit(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.log.Warn().Msg("task submitted during shutdown, dropping")
		return
	}
	select {
	case p.taskQueue <- t:
	default:
		p.log.Warn().Msg("task queue full, dropping task")
	}
}

// Shutdown closes the queue and waits for workers to finish. Safe to
// call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.taskQueue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
