// Package worker provides a small fixed-size pool for background jobs the
// hub must not block a dispatch on: notebook exports of concluded chains
// and periodic discovery probe sweeps.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// Job is one unit of queued background work.
type Job interface {
	// ID identifies the job in logs.
	ID() string

	// Timeout bounds one run; zero takes the pool default.
	Timeout() time.Duration

	// Run performs the work. Errors are logged, never retried by the
	// pool itself; jobs that want retry re-enqueue themselves.
	Run(ctx context.Context) error
}

// Queue supplies jobs to the pool workers.
type Queue interface {
	// Enqueue adds a job; a full queue fails immediately so callers can
	// fall back to opportunistic retry.
	Enqueue(job Job) error

	// Dequeue returns the next job, or nil after timeout or close.
	Dequeue(timeout time.Duration) Job

	// Close wakes blocked Dequeue callers.
	Close()
}

// MemoryQueue is a bounded in-process Queue.
type MemoryQueue struct {
	jobs chan Job

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to capacity pending jobs.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{jobs: make(chan Job, capacity)}
}

// Enqueue adds a job, failing with BackendUnavailable when full or closed.
func (q *MemoryQueue) Enqueue(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fault.New(fault.BackendUnavailable, "job queue closed")
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	default:
		return fault.New(fault.BackendUnavailable, "job queue full")
	}
}

// Dequeue returns the next job, or nil when timeout elapses or the queue
// closes.
func (q *MemoryQueue) Dequeue(timeout time.Duration) Job {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil
		}
		return job
	case <-timer.C:
		return nil
	}
}

// Close drains nothing; it only stops new work and wakes waiting workers.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Pool runs queued jobs on a fixed set of workers.
type Pool struct {
	queue          Queue
	workers        int
	defaultTimeout time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPool creates a pool of workers over queue. defaultTimeout applies to
// jobs that report a zero timeout.
func NewPool(queue Queue, workers int, defaultTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Pool{
		queue:          queue,
		workers:        workers,
		defaultTimeout: defaultTimeout,
		stop:           make(chan struct{}),
	}
}

// Submit enqueues a job for background execution.
func (p *Pool) Submit(job Job) error {
	return p.queue.Enqueue(job)
}

// Start launches the workers.
func (p *Pool) Start() {
	common.Logger.WithFields(logrus.Fields{"workers": p.workers}).Info("Worker pool started")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.stop)
		p.queue.Close()
	})
	p.wg.Wait()
	common.Logger.Info("Worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		job := p.queue.Dequeue(time.Second)
		if job == nil {
			select {
			case <-p.stop:
				return
			default:
				continue
			}
		}

		p.process(id, job)
	}
}

func (p *Pool) process(id int, job Job) {
	timeout := job.Timeout()
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		common.Logger.WithFields(logrus.Fields{
			"worker": id,
			"job":    job.ID(),
			"error":  err.Error(),
		}).Warn("Background job failed")
		return
	}

	common.Logger.WithFields(logrus.Fields{
		"worker":   id,
		"job":      job.ID(),
		"duration": time.Since(start).String(),
	}).Debug("Background job completed")
}

// Func adapts a closure into a Job.
type Func struct {
	Name string
	Max  time.Duration
	Fn   func(ctx context.Context) error
}

// ID implements Job.
func (f Func) ID() string { return f.Name }

// Timeout implements Job.
func (f Func) Timeout() time.Duration { return f.Max }

// Run implements Job.
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }
