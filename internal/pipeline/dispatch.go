package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher defaults.
const (
	DefaultWorkers     = 2
	DefaultQueueSize   = 32
	DefaultTaskTimeout = 300 * time.Second
)

var (
	// ErrQueueFull indicates the background queue has no room for another
	// accurate-tier task.
	ErrQueueFull = errors.New("background queue full")

	// ErrDispatcherStopped indicates a submit after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// Dispatcher runs accurate-tier generations in the background on a bounded
// worker pool. Submissions never block: a full queue is reported to the
// caller instead of stalling the fast-tier response.
//
// Task failures are logged and swallowed. The query record simply never gets
// its accurate slot filled; the client observes that and may retry.
type Dispatcher struct {
	orc         *Orchestrator
	queue       chan string
	workers     int
	taskTimeout time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the pending-task queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan string, n)
		}
	}
}

// WithTaskTimeout bounds a single background generation, retrieval included.
func WithTaskTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.taskTimeout = t
		}
	}
}

// NewDispatcher creates a dispatcher over the orchestrator. Call [Start]
// before submitting.
func NewDispatcher(orc *Orchestrator, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		orc:         orc,
		queue:       make(chan string, DefaultQueueSize),
		workers:     DefaultWorkers,
		taskTimeout: DefaultTaskTimeout,
		logger:      orc.logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool. Workers run until [Stop] is called; ctx
// cancellation aborts in-flight generations and makes workers skip the
// remaining queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Submit queues an accurate-tier generation for queryID. Fails with
// ErrQueueFull or ErrDispatcherStopped; never blocks.
//
// The send happens under the mutex so that Stop cannot close the queue
// between the stopped check and the send.
func (d *Dispatcher) Submit(queryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- queryID:
		d.orc.metrics.BackgroundTasks.Add(context.Background(), 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses further submissions, drains the queue, and waits for in-flight
// tasks to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for queryID := range d.queue {
		select {
		case <-ctx.Done():
			d.logger.Warn("skipping queued background task, shutting down", "query_id", queryID)
			d.orc.metrics.BackgroundTasks.Add(context.Background(), -1)
			continue
		default:
		}
		d.run(ctx, queryID)
	}
}

// run executes one background generation, swallowing its error.
func (d *Dispatcher) run(ctx context.Context, queryID string) {
	defer d.orc.metrics.BackgroundTasks.Add(context.Background(), -1)

	taskCtx, cancel := context.WithTimeout(ctx, d.taskTimeout)
	defer cancel()

	if _, err := d.orc.ProcessAccurate(taskCtx, queryID); err != nil {
		d.logger.Error("background accurate generation failed",
			"query_id", queryID,
			"error", err,
		)
	}
}
