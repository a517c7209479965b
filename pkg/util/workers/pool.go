// Package workers provides a small bounded worker pool with optional rate
// limiting, used to fan out independent probe requests against archive
// mirrors without hammering them.
package workers

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Task is one unit of work. It receives the pool's context and should
// return promptly once that context is cancelled.
type Task func(ctx context.Context) error

// Result pairs a task's outcome with its submission index, so callers can
// relate results back to an ordered input slice.
type Result struct {
	Index int
	Error error
}

// Config controls pool sizing and throttling.
type Config struct {
	Workers   int     // Number of concurrent workers
	RateLimit float64 // Requests per second (0 = no limit)
	BurstSize int     // Burst size for rate limiter
}

type job struct {
	index int
	task  Task
}

// Pool runs submitted tasks on a fixed set of worker goroutines.
type Pool struct {
	jobs    chan job
	results []Result
	mu      sync.Mutex
	pending sync.WaitGroup
	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool starts cfg.Workers goroutines that execute submitted tasks.
// Call Wait to collect results, or Stop to abandon pending work.
func NewPool(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.Workers
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		jobs:   make(chan job),
		ctx:    poolCtx,
		cancel: cancel,
	}
	p.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.run(limiter)
	}
	return p
}

func (p *Pool) run(limiter *rate.Limiter) {
	defer p.workers.Done()
	for j := range p.jobs {
		err := p.ctx.Err()
		if err == nil && limiter != nil {
			err = limiter.Wait(p.ctx)
		}
		if err == nil {
			err = j.task(p.ctx)
		}
		p.record(Result{Index: j.index, Error: err})
	}
}

func (p *Pool) record(r Result) {
	p.mu.Lock()
	p.results = append(p.results, r)
	p.mu.Unlock()
	p.pending.Done()
}

// Submit queues a task. It blocks while all workers are busy, which keeps
// submission naturally paced to the pool size.
func (p *Pool) Submit(index int, task Task) {
	p.pending.Add(1)
	select {
	case p.jobs <- job{index: index, task: task}:
	case <-p.ctx.Done():
		p.record(Result{Index: index, Error: p.ctx.Err()})
	}
}

// Wait blocks until every submitted task has finished and returns their
// results in completion order. The pool's context is released on return;
// the pool cannot be reused afterwards.
func (p *Pool) Wait() []Result {
	p.pending.Wait()
	close(p.jobs)
	p.workers.Wait()
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// Stop cancels the pool context. Running tasks see the cancellation via
// their context; queued tasks complete with a cancellation error.
func (p *Pool) Stop() {
	p.cancel()
}
