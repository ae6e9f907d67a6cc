// Package processing runs background jobs on an in-process goroutine pool.
// It stands in for the Redis queue when filealloc runs as a single binary.
package processing

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/queue"
)

// ErrQueueFull is returned by Submit when the buffer has no room left.
var ErrQueueFull = errors.New("processing queue full")

// Handler executes one job.
type Handler func(ctx context.Context, jobName string, payload []byte) error

// Job is a unit of background work.
type Job struct {
	Name    string
	Payload []byte
	ID      string
}

// Processor consumes Jobs on a fixed number of goroutines. A job ID stays
// reserved from submission until its job finishes.
type Processor struct {
	handler Handler
	queue   chan Job
	workers int
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(handler Handler, workers int, logger zerolog.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		handler: handler,
		queue:   make(chan Job, workers*64),
		workers: workers,
		logger:  logger.With().Str("component", "processor").Logger(),
		pending: make(map[string]struct{}),
	}
}

// Start launches worker goroutines that run until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Submit queues a job. A jobID already pending is dropped without error.
func (p *Processor) Submit(_ context.Context, jobName string, payload any, jobID string) error {
	data, err := queue.Encode(payload)
	if err != nil {
		return err
	}
	if jobID != "" {
		p.mu.Lock()
		if _, dup := p.pending[jobID]; dup {
			p.mu.Unlock()
			p.logger.Debug().Str("job", jobName).Str("id", jobID).Msg("duplicate job dropped")
			return nil
		}
		p.pending[jobID] = struct{}{}
		p.mu.Unlock()
	}

	select {
	case p.queue <- Job{Name: jobName, Payload: data, ID: jobID}:
		return nil
	default:
		p.release(jobID)
		p.logger.Warn().Str("job", jobName).Str("id", jobID).Msg("processor queue full, dropping job")
		return ErrQueueFull
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.process(ctx, job)
		}
	}
}

func (p *Processor) process(ctx context.Context, job Job) {
	defer p.release(job.ID)
	if err := p.handler(ctx, job.Name, job.Payload); err != nil {
		p.logger.Error().Err(err).Str("job", job.Name).Str("id", job.ID).Msg("job failed")
	}
}

func (p *Processor) release(jobID string) {
	if jobID == "" {
		return
	}
	p.mu.Lock()
	delete(p.pending, jobID)
	p.mu.Unlock()
}
