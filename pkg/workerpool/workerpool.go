package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskfleet/dispatch/internal/lg"
)

const (
	TotalMaxWorkers = 10
	maxAttempts     = 3
)

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload T
	Fn      JobFunc[T]
	Ctx     context.Context
	Cleanup func()
}

// Pool fans submitted jobs out to at most maxWorkers goroutines. A job's Fn
// is retried with exponential backoff before it is reported failed.
type Pool[T any] struct {
	jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	quit          chan struct{}
	maxWorkers    int
	sem           chan struct{}
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	pool := &Pool[T]{
		jobs:       make(chan Job[T], maxWorkers),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}
	go pool.dispatch()
	return pool
}

// Stop rejects further jobs and waits for running workers to finish. Jobs
// parked in the queue that no dispatcher will pick up anymore get their
// Cleanup invoked.
func (p *Pool[T]) Stop() {
	close(p.quit)
	p.wg.Wait()
	p.drainParked()
}

func (p *Pool[T]) drainParked() {
	for {
		select {
		case job := <-p.jobs:
			if job.Cleanup != nil {
				job.Cleanup()
			}
		default:
			return
		}
	}
}

// Submit hands a job to the pool. Jobs submitted after Stop are rejected.
func (p *Pool[T]) Submit(job Job[T]) {
	logger := lg.FromContext(job.Ctx)
	// once quit is closed the blocking select below picks either ready case
	// at random; checking quit first keeps jobs from parking in a queue no
	// dispatcher reads anymore
	select {
	case <-p.quit:
		logger.Warn("worker pool is shutting down, job rejected")
		if job.Cleanup != nil {
			job.Cleanup()
		}
		return
	default:
	}
	select {
	case p.jobs <- job:
		logger.Debug("job submitted", lg.Any("job", job.Payload))
	case <-p.quit:
		logger.Warn("worker pool is shutting down, job rejected")
		if job.Cleanup != nil {
			job.Cleanup()
		}
	}
}

func (p *Pool[T]) dispatch() {
	for {
		select {
		case job := <-p.jobs:
			p.wg.Add(1)
			p.sem <- struct{}{}
			atomic.AddInt32(&p.activeWorkers, 1)
			go p.worker(job)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() { <-p.sem }()
	defer func() {
		if job.Cleanup != nil {
			job.Cleanup()
		}
	}()

	logger := lg.FromContext(job.Ctx).With(lg.Any("job", job.Payload))

	operation := func() error {
		return job.Fn(job.Ctx, job.Payload)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1),
		job.Ctx,
	)
	if err := backoff.Retry(operation, b); err != nil {
		logger.Error("job failed", lg.Err(err))
		return
	}
	logger.Debug("job finished",
		lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
