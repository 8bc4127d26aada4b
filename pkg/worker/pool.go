package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pavelc4/aether-queue/pkg/logger"
)

type Job func(ctx context.Context) error

type Pool struct {
	maxWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	stopped    bool
	mu         sync.Mutex
	ctx        context.Context
}

// NewPool starts maxWorkers goroutines. ctx is handed to every job.
func NewPool(ctx context.Context, maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	p := &Pool{
		maxWorkers: maxWorkers,
		jobs:       make(chan Job, maxWorkers*2),
		ctx:        ctx,
	}
	p.start()
	return p
}

func (p *Pool) start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.run(job); err != nil {
			logger.Warn("Job failed", "worker", id, "error", err)
		}
	}
}

// run executes one job; a panic fails the job and leaves the worker alive.
func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(p.ctx)
}

func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	p.jobs <- job
	return true
}

func (p *Pool) Size() int {
	return p.maxWorkers
}

// Stop refuses new jobs and waits for queued and running ones to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		close(p.jobs)
		p.stopped = true
	}
	p.mu.Unlock()

	p.wg.Wait()
}
