package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/septivank/water-meter-bridge/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when no slot is free
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("dispatcher stopped")
)

// Job is a unit of background work. The context is detached from whatever
// request scheduled the job.
type Job func(ctx context.Context)

type task struct {
	name string
	job  Job
}

// Dispatcher runs fire-and-forget jobs on a fixed set of workers fed by a
// bounded queue.
type Dispatcher struct {
	queue      chan task
	workers    int
	jobTimeout time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; call Start to launch the workers
func NewDispatcher(queueSize, workers int, jobTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:      make(chan task, queueSize),
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.logger.Info("notification dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)),
	)
}

// Submit enqueues job without blocking
func (d *Dispatcher) Submit(name string, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}

	select {
	case d.queue <- task{name: name, job: job}:
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		metrics.NotifyDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish or ctx to end
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher drained")
		return nil
	case <-ctx.Done():
		d.logger.Warn("notification dispatcher stop timed out", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for t := range d.queue {
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
		d.execute(t)
	}
}

func (d *Dispatcher) execute(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("background job panicked",
				zap.String("job", t.name),
				zap.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	t.job(ctx)
	d.logger.Debug("background job finished",
		zap.String("job", t.name),
		zap.Duration("duration", time.Since(start)),
	)
}
