package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/soniclane/transcript-pipeline/internal/logger"
)

// ErrQueueFull is returned when a submission cannot be buffered.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrStopped is returned for submissions after Stop.
var ErrStopped = errors.New("dispatch pool stopped")

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher hands job IDs to whatever executes them.
type Dispatcher interface {
	Submit(ctx context.Context, jobID string) error
}

// Pool is an in-process Dispatcher backed by a bounded channel and a
// fixed set of workers. A panic in one job is recovered and logged so a
// single bad file cannot take the pool down.
type Pool struct {
	runner  Runner
	jobs    chan string
	workers int
	log     logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// NewPool builds a stopped pool; call Start before submitting.
func NewPool(runner Runner, workers, buffer int, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 100
	}
	return &Pool{
		runner:  runner,
		jobs:    make(chan string, buffer),
		workers: workers,
		log:     log,
	}
}

// Start launches the workers. Jobs run under the derived context so Stop
// can interrupt in-flight work.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("starting worker pool with %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels in-flight jobs and waits for workers to drain. Further
// submissions are rejected with ErrStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit implements Dispatcher. It never blocks the caller: webhook
// handlers must acknowledge quickly, so a full buffer is an error the
// resume scan will pick up later. The mutex keeps the send ordered
// against Stop closing the channel, e.g. a sweep firing mid-shutdown.
func (p *Pool) Submit(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("%w: job %s", ErrStopped, jobID)
	}

	select {
	case p.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: job %s", ErrQueueFull, jobID)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.log.Debug("worker %d started", id)

	for jobID := range p.jobs {
		p.runOne(ctx, id, jobID)
	}
}

func (p *Pool) runOne(ctx context.Context, workerID int, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker %d: panic processing job %s: %v\n%s",
				workerID, jobID, r, string(debug.Stack()))
		}
	}()

	if err := p.runner.Run(ctx, jobID); err != nil {
		p.log.Error("worker %d: job %s failed: %v", workerID, jobID, err)
		return
	}
	p.log.Info("worker %d: job %s finished", workerID, jobID)
}
