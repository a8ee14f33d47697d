package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"airlab.dev/pollution-core/internal/store"
	"airlab.dev/pollution-core/pkg/metrics"
)

const (
	// Retry policy for failed evaluations.
	maxAttempts  = 3
	initialDelay = 100 * time.Millisecond
	maxDelay     = 5 * time.Second
	multiplier   = 2

	defaultWorkers   = 3
	defaultQueueSize = 256
)

// PoolConfig holds the configuration for the evaluation worker pool.
type PoolConfig struct {
	Logger    *slog.Logger
	Store     store.Store
	Metrics   *metrics.AnomalyMetrics
	Workers   int
	QueueSize int
}

// Pool runs anomaly evaluations asynchronously. Enqueueing never blocks
// the caller; jobs that still fail after the retry budget are dead-lettered
// as a system log entry instead of being silently dropped.
type Pool struct {
	logger    *slog.Logger
	store     store.Store
	evaluator *Evaluator
	metrics   *metrics.AnomalyMetrics

	jobs     chan Job
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool creates the worker pool and launches its workers.
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("pool config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	evaluator, err := NewEvaluator(cfg.Logger, cfg.Store, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}

	p := &Pool{
		logger:    cfg.Logger,
		store:     cfg.Store,
		evaluator: evaluator,
		metrics:   cfg.Metrics,
		jobs:      make(chan Job, queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p, nil
}

// Enqueue submits a job without blocking. When the queue is full the job
// is dropped and counted; ingestion must never stall on evaluation.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.jobs <- job:
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.jobs)))
		}
		return true
	default:
		p.logger.Error("evaluation queue full, dropping job",
			"device_id", job.DeviceID,
			"value", job.Value,
		)
		if p.metrics != nil {
			p.metrics.EnqueueDrops.Inc()
		}
		return false
	}
}

// Stop closes the intake and waits for in-flight evaluations to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.jobs)))
		}
		p.runWithRetry(job)
	}
}

// runWithRetry executes one job with exponential backoff. After the
// attempt budget is exhausted the failure is dead-lettered.
func (p *Pool) runWithRetry(job Job) {
	ctx := context.Background()
	delay := initialDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		_, err := p.evaluator.Evaluate(ctx, job)
		if p.metrics != nil {
			p.metrics.EvalDuration.Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return
		}
		lastErr = err

		p.logger.Warn("evaluation attempt failed",
			"device_id", job.DeviceID,
			"attempt", attempt,
			"error", err,
		)
		if p.metrics != nil && attempt < maxAttempts {
			p.metrics.Retries.Inc()
		}

		if attempt < maxAttempts {
			time.Sleep(delay)
			delay *= multiplier
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	p.deadLetter(ctx, job, lastErr)
}

// deadLetter surfaces an abandoned evaluation as an error log and a
// system log entry so operators can replay it.
func (p *Pool) deadLetter(ctx context.Context, job Job, cause error) {
	p.logger.Error("evaluation abandoned after retries",
		"device_id", job.DeviceID,
		"value", job.Value,
		"attempts", maxAttempts,
		"error", cause,
	)
	if p.metrics != nil {
		p.metrics.DeadLetters.Inc()
	}

	deviceID := job.DeviceID
	entry := store.SystemLog{
		EventType: store.EventEvalDeadLetter,
		Message: fmt.Sprintf("Anomaly evaluation for device %d (value %.2f at %s) failed after %d attempts: %v",
			job.DeviceID, job.Value, job.Timestamp.Format(time.RFC3339), maxAttempts, cause),
		Level:    store.LevelError,
		DeviceID: &deviceID,
	}
	if err := p.store.AppendLog(ctx, &entry); err != nil {
		p.logger.Error("failed to record dead-letter entry", "device_id", job.DeviceID, "error", err)
	}
}
