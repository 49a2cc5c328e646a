// Package scheduler runs tasks end to end: routing, execution, circuit
// breaking, failover, and the retry sweep.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mirrorlake/steward/pkg/breaker"
	"github.com/mirrorlake/steward/pkg/failover"
	"github.com/mirrorlake/steward/pkg/loop"
	"github.com/mirrorlake/steward/pkg/provider"
	"github.com/mirrorlake/steward/pkg/retry"
	"github.com/mirrorlake/steward/pkg/router"
	"github.com/mirrorlake/steward/pkg/schema"
	"github.com/mirrorlake/steward/pkg/session"
	"github.com/mirrorlake/steward/pkg/steering"
)

// Scheduler owns the daemon's job lifecycle. One failover hop is attempted
// inline; anything still failing goes to the retry queue or, when the retry
// budget is spent, is dropped as terminal.
type Scheduler struct {
	router   *router.Router
	queue    *retry.Queue
	log      *session.Log
	steering steering.Source
	breakers *breaker.Registry
	failover *failover.Controller
	tools    []loop.ToolHandler
	logger   *slog.Logger

	maxRetries    int
	maxTurns      int
	sweepInterval time.Duration
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBreakers installs a shared breaker registry. The same registry should
// back the guarded providers handed to the router.
func WithBreakers(reg *breaker.Registry) Option {
	return func(s *Scheduler) { s.breakers = reg }
}

// WithFailover replaces the default failover controller.
func WithFailover(fc *failover.Controller) Option {
	return func(s *Scheduler) { s.failover = fc }
}

// WithTools sets the tool handlers passed to every execution loop.
func WithTools(handlers ...loop.ToolHandler) Option {
	return func(s *Scheduler) { s.tools = handlers }
}

// WithMaxRetries overrides the retry budget per task.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithMaxTurns sets the default turn budget for loops.
func WithMaxTurns(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithSweepInterval sets how often the daemon re-checks the retry queue.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithMaxParallelJobs bounds concurrently running jobs.
func WithMaxParallelJobs(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// New creates a scheduler over an already-constructed router, retry queue,
// session log, and steering source.
func New(rt *router.Router, queue *retry.Queue, log *session.Log, src steering.Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		router:        rt,
		queue:         queue,
		log:           log,
		steering:      src,
		breakers:      breaker.NewRegistry(),
		logger:        slog.Default(),
		maxRetries:    retry.DefaultMaxRetries,
		maxTurns:      loop.DefaultMaxTurns,
		sweepInterval: 30 * time.Second,
		sem:           semaphore.NewWeighted(4),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.failover == nil {
		s.failover = failover.NewController(rt.Providers(), s.logger)
	}
	return s
}

// Submit fills in missing task fields and runs the job in the background,
// returning the job ID immediately.
func (s *Scheduler) Submit(ctx context.Context, task *schema.TaskContext) (string, error) {
	s.prepare(task)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		s.Dispatch(ctx, task)
	}()
	return task.JobID, nil
}

// Dispatch runs one job to its conclusion on the calling goroutine and
// returns the final outcome. Failures are absorbed into the outcome and the
// retry queue, never returned as errors.
func (s *Scheduler) Dispatch(ctx context.Context, task *schema.TaskContext) loop.Outcome {
	s.prepare(task)

	p, err := s.router.SelectProvider(task)
	if err != nil {
		s.logger.Warn("no provider for task", "job_id", task.JobID, "error", err)
		s.enqueue(task, err)
		return loop.Outcome{Status: loop.StatusFailed, Err: err}
	}

	out := s.runOn(ctx, p, task, nil)
	if out.Status == loop.StatusCompleted {
		s.finish(task)
		return out
	}

	// One inline failover hop for the categories worth switching for.
	if res := s.failover.HandleFailure(task, p.Name(), out.Err); res != nil {
		out = s.runOn(ctx, res.Provider, task, res.Bundle)
		if out.Status == loop.StatusCompleted {
			s.finish(task)
			return out
		}
	}

	// Transport-level transience (net timeouts, Temporary provider errors)
	// earns a retry even when the message gives the classifier nothing to
	// go on.
	classified := failover.ClassifyError(out.Err)
	if classified.Retryable || provider.IsTransient(out.Err) {
		s.enqueue(task, out.Err)
	} else {
		s.logger.Error("job failed terminally",
			"job_id", task.JobID,
			"category", string(classified.Category),
			"error", out.Err)
		if err := s.queue.Remove(task.JobID); err != nil {
			s.logger.Warn("retry queue remove failed", "job_id", task.JobID, "error", err)
		}
	}
	return out
}

// Run sweeps the retry queue until the context is cancelled, then waits for
// in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "sweep_interval", s.sweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep dispatches every due entry in the retry queue.
func (s *Scheduler) Sweep(ctx context.Context) {
	for _, task := range s.queue.ReadyTasks() {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		t := task
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.Dispatch(ctx, &t)
		}()
	}
}

// Wait blocks until all background jobs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) prepare(task *schema.TaskContext) {
	if task.JobID == "" {
		task.JobID = uuid.NewString()
	}
	if task.Complexity == "" || task.ResourceType == "" {
		cls := router.ClassifyTask(task.Task)
		if task.Complexity == "" {
			task.Complexity = cls.Complexity
		}
		if task.ResourceType == "" {
			task.ResourceType = cls.ResourceType
		}
	}
}

func (s *Scheduler) runOn(ctx context.Context, p provider.Provider, task *schema.TaskContext, bundle *schema.HandoffBundle) loop.Outcome {
	opts := []loop.Option{
		loop.WithLogger(s.logger),
		loop.WithMaxTurns(s.maxTurns),
		loop.WithTools(s.tools...),
	}
	if bundle != nil {
		opts = append(opts, loop.WithHandoff(bundle))
	}

	l := loop.New(p, s.log, s.steering, opts...)
	s.logger.Info("job started", "job_id", task.JobID, "provider", p.Name())
	out := l.Run(ctx, task)

	b := s.breakers.For(p.Name())
	if out.Status == loop.StatusCompleted {
		b.RecordSuccess()
		s.logger.Info("job completed", "job_id", task.JobID, "provider", p.Name(), "turns", out.Turns)
	} else {
		b.RecordFailure()
		s.logger.Warn("job failed", "job_id", task.JobID, "provider", p.Name(), "error", out.Err)
	}
	return out
}

// finish clears any retry queue entry left from a previous attempt.
func (s *Scheduler) finish(task *schema.TaskContext) {
	if err := s.queue.Remove(task.JobID); err != nil {
		s.logger.Warn("retry queue remove failed", "job_id", task.JobID, "error", err)
	}
}

func (s *Scheduler) enqueue(task *schema.TaskContext, cause error) {
	_, err := s.queue.Enqueue(*task, cause, s.maxRetries)
	if err == nil {
		return
	}
	if errors.Is(err, retry.ErrMaxRetriesExceeded) {
		s.logger.Error("job exhausted retries", "job_id", task.JobID, "error", cause)
		return
	}
	s.logger.Error("retry enqueue failed", "job_id", task.JobID, "error", err)
}
