// Package scheduler runs the polling dispatcher that claims ready jobs and
// hands them to the executor, reclaims jobs abandoned by dead workers, and
// enqueues recurring syncs on their schedules.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopglance/syncengine/pkg/core"
	"github.com/shopglance/syncengine/pkg/engine"
	"github.com/shopglance/syncengine/pkg/executor"
	"github.com/shopglance/syncengine/pkg/security"
)

// Config holds dispatcher configuration.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int

	// ReapInterval is how often abandoned processing jobs are swept.
	ReapInterval time.Duration
	// StaleAfter is how long a processing job may go without progress
	// before the reaper routes it through the failure path.
	StaleAfter time.Duration

	// ScheduleInterval is how often recurring syncs are evaluated.
	ScheduleInterval time.Duration

	StorageRetry RetryConfig
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithWorkerID sets a stable worker identity instead of a random one.
func WithWorkerID(id string) Option {
	return func(c *Config) { c.WorkerID = id }
}

// WithPollInterval sets how often the dispatcher polls for ready jobs.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithBatchSize sets how many jobs one poll may claim.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

// WithConcurrency sets how many jobs execute at once.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithStaleAfter sets the abandonment threshold for the reaper.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Config) { c.StaleAfter = d }
}

// WithReapInterval sets how often the reaper sweeps.
func WithReapInterval(d time.Duration) Option {
	return func(c *Config) { c.ReapInterval = d }
}

// WithStorageRetry overrides the storage retry configuration.
func WithStorageRetry(cfg RetryConfig) Option {
	return func(c *Config) { c.StorageRetry = cfg }
}

// Dispatcher polls the store for ready jobs and executes them.
type Dispatcher struct {
	engine *engine.Engine
	exec   *executor.Executor
	config Config
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a Dispatcher for the engine. Executor options apply to the
// executor the dispatcher builds.
func New(eng *engine.Engine, opts []Option, execOpts ...executor.Option) *Dispatcher {
	config := Config{
		WorkerID:         uuid.New().String(),
		PollInterval:     time.Second,
		BatchSize:        10,
		Concurrency:      10,
		ReapInterval:     time.Minute,
		StaleAfter:       10 * time.Minute,
		ScheduleInterval: time.Second,
		StorageRetry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	config.BatchSize = security.ClampBatchSize(config.BatchSize)
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	return &Dispatcher{
		engine: eng,
		exec:   eng.NewExecutor(execOpts...),
		config: config,
		logger: slog.Default(),
	}
}

// SetLogger replaces the dispatcher logger.
func (d *Dispatcher) SetLogger(l *slog.Logger) {
	d.logger = l
}

// WorkerID returns the identity this dispatcher claims jobs under.
func (d *Dispatcher) WorkerID() string {
	return d.config.WorkerID
}

// Start begins claiming and executing jobs. Blocks until the context is
// cancelled, then waits for in-flight jobs to finish.
func (d *Dispatcher) Start(ctx context.Context) error {
	jobsChan := make(chan *core.Job, d.config.Concurrency)

	for i := 0; i < d.config.Concurrency; i++ {
		d.wg.Add(1)
		go d.processLoop(ctx, jobsChan)
	}

	go d.runReaper(ctx)
	go d.runScheduler(ctx)

	d.logger.Info("dispatcher started",
		"worker_id", d.config.WorkerID,
		"poll_interval", d.config.PollInterval,
		"concurrency", d.config.Concurrency)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobsChan)
			d.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			jobs, err := d.claimWithRetry(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					d.logger.Error("failed to claim jobs", "error", err)
				}
				continue
			}
			for _, job := range jobs {
				d.engine.Emit(&core.JobClaimed{Job: job, WorkerID: d.config.WorkerID, Timestamp: time.Now()})
				select {
				case jobsChan <- job:
				case <-ctx.Done():
					close(jobsChan)
					d.wg.Wait()
					return ctx.Err()
				}
			}
		}
	}
}

func (d *Dispatcher) claimWithRetry(ctx context.Context) ([]*core.Job, error) {
	var jobs []*core.Job
	err := retryStorage(ctx, d.config.StorageRetry, func() error {
		var err error
		jobs, err = d.engine.Store().ClaimReady(ctx, d.config.BatchSize, d.config.WorkerID)
		return err
	})
	return jobs, err
}

func (d *Dispatcher) processLoop(ctx context.Context, jobs <-chan *core.Job) {
	defer d.wg.Done()

	for job := range jobs {
		d.exec.Execute(ctx, job)
	}
}

// runReaper periodically routes abandoned processing jobs back through the
// failure path so their retry budget keeps counting attempts.
func (d *Dispatcher) runReaper(ctx context.Context) {
	ticker := time.NewTicker(d.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var reclaimed int64
			err := retryStorage(ctx, d.config.StorageRetry, func() error {
				var err error
				reclaimed, err = d.engine.Store().ReclaimStale(ctx, d.config.StaleAfter)
				return err
			})
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					d.logger.Error("stale job sweep failed", "error", err)
				}
				continue
			}
			if reclaimed > 0 {
				d.logger.Warn("reclaimed abandoned jobs", "count", reclaimed, "stale_after", d.config.StaleAfter)
			}
		}
	}
}

// runScheduler enqueues recurring syncs when their schedule fires. A tick
// that lands while the previous run is still active is absorbed by the
// duplicate guard.
func (d *Dispatcher) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(d.config.ScheduleInterval)
	defer ticker.Stop()

	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for name, sync := range d.engine.ScheduledSyncs() {
				next := sync.Schedule.Next(lastRun[name])
				if now.Before(next) {
					continue
				}
				_, err := d.engine.Enqueue(ctx, sync.TenantID, sync.Kind, sync.Options...)
				switch {
				case errors.Is(err, core.ErrDuplicateActiveJob):
					d.logger.Debug("scheduled sync still active, skipping tick", "name", name)
					lastRun[name] = now
				case err != nil:
					d.logger.Error("failed to enqueue scheduled sync", "name", name, "error", err)
				default:
					d.logger.Info("scheduled sync enqueued", "name", name, "tenant", sync.TenantID, "kind", sync.Kind)
					lastRun[name] = now
				}
			}
		}
	}
}
