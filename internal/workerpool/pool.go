package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wb-go/wbf/zlog"
)

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool stopped")

// Job couples a payload with a completion callback. The callback is invoked
// exactly once per job, with nil on success or the execution error.
type Job[T any] struct {
	ID         string
	Payload    T
	OnComplete func(err error)
}

// RunFunc executes one job payload.
type RunFunc[T any] func(ctx context.Context, payload T) error

// Pool is a fixed-size set of workers consuming a bounded job queue. The
// queue holds at most twice the worker count, so producers block instead of
// growing memory without bound once the queue fills up.
type Pool[T any] struct {
	run     RunFunc[T]
	jobs    chan Job[T]
	workers int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// New creates a pool of the given size that executes payloads with run. The
// queue capacity is derived from the same count, so the two can never drift
// apart. Start must be called before submitting jobs.
func New[T any](workers int, run RunFunc[T]) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[T]{
		run:     run,
		jobs:    make(chan Job[T], 2*workers),
		workers: workers,
	}
}

// Start launches the configured number of workers. ctx is passed to every
// job execution; cancelling it does not drop queued jobs, it only lets
// running jobs observe the cancellation.
func (p *Pool[T]) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Submit enqueues a job. It blocks while the queue is full and returns
// ErrStopped once the pool has been stopped.
func (p *Pool[T]) Submit(job Job[T]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	p.jobs <- job
	return nil
}

// Stop closes the queue for new submissions and waits until every accepted
// job has finished. No job is dropped mid-execution.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		err := p.runJob(ctx, job)
		if err != nil {
			zlog.Logger.Err(err).
				Int("worker", id).
				Str("job", job.ID).
				Msg("job failed")
		}
		if job.OnComplete != nil {
			job.OnComplete(err)
		}
	}
}

// runJob executes one job, converting a panic inside the job into its error
// so a faulty job cannot take the worker down.
func (p *Pool[T]) runJob(ctx context.Context, job Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	return p.run(ctx, job.Payload)
}
