package engine

import (
	"context"
	"errors"
	"sync"

	"opzenix/backend/internal/logging"
	"opzenix/backend/pkg/models"
)

var (
	// ErrQueueFull is returned when the async trigger queue is saturated.
	ErrQueueFull = errors.New("trigger queue is full")
	// ErrQueueClosed is returned when the dispatcher has shut down.
	ErrQueueClosed = errors.New("trigger queue is closed")
)

type runJob struct {
	definition *models.WorkflowDefinition
	runID      string
	input      map[string]any
}

// Dispatcher executes queued runs on a fixed pool of worker goroutines.
// Fire-and-forget triggers go through this explicit queue so a saturated
// system pushes back at the boundary instead of silently losing work.
type Dispatcher struct {
	engine  *Engine
	jobs    chan runJob
	workers int
	logger  *logging.Logger

	startOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher with the given worker count and queue
// capacity. Call Start before enqueueing.
func NewDispatcher(engine *Engine, workers, queueSize int, logger *logging.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		engine:  engine,
		jobs:    make(chan runJob, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

// Enqueue submits a run for background execution. It never blocks: a full
// queue returns ErrQueueFull and a stopped dispatcher returns ErrQueueClosed.
func (d *Dispatcher) Enqueue(job runJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight runs to finish or
// the context to expire. Closing the jobs channel is safe here because
// Enqueue checks the closed flag under the same mutex before sending.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		// Detached context: the triggering request has already returned.
		result := d.engine.Execute(context.Background(), job.definition, job.runID, job.input)
		d.logger.Debug("async run finished",
			"run_id", job.runID,
			"status", result.Status,
			"steps_executed", result.StepsExecuted,
		)
	}
}
