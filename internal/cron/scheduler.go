package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/letsgohq/letsgo/internal/store"
)

// JobHandler executes one job firing and returns a result summary.
type JobHandler func(ctx context.Context, job store.CronJob) (string, error)

// jobState is a scheduled job plus its runtime bookkeeping.
type jobState struct {
	job     store.CronJob
	nextRun time.Time
	history *historyRing
}

// Scheduler fires configured jobs on their cron schedule. A single
// ticker loop checks due times; each firing runs on its own goroutine
// so a slow handler never delays other jobs.
type Scheduler struct {
	handler      JobHandler
	cronStore    store.CronStore
	gron         *gronx.Gronx
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the due-check interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// NewScheduler creates a scheduler over the given jobs. Jobs with
// invalid expressions are skipped with a warning, never failing the
// whole set. cronStore may be nil (no persistence).
func NewScheduler(jobs []store.CronJob, handler JobHandler, cronStore store.CronStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		handler:      handler,
		cronStore:    cronStore,
		gron:         gronx.New(),
		now:          time.Now,
		tickInterval: time.Second,
		jobs:         make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for _, job := range jobs {
		if err := s.addLocked(job, now); err != nil {
			slog.Warn("cron job skipped", "job", job.Name, "error", err)
		}
	}
	return s
}

// AddJob registers or replaces a job at runtime.
func (s *Scheduler) AddJob(job store.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(job, s.now())
}

// RemoveJob drops a job by name.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
}

func (s *Scheduler) addLocked(job store.CronJob, now time.Time) error {
	job.Expr = NormalizeExpr(job.Expr)
	if job.Name == "" {
		return fmt.Errorf("job name required")
	}
	if !s.gron.IsValid(job.Expr) {
		return fmt.Errorf("invalid cron expression %q", job.Expr)
	}
	next, err := gronx.NextTickAfter(job.Expr, now, false)
	if err != nil {
		return fmt.Errorf("compute next run for %q: %w", job.Expr, err)
	}
	job.NextRun = &next

	state := &jobState{job: job, nextRun: next, history: &historyRing{}}
	if prev, ok := s.jobs[job.Name]; ok {
		state.history = prev.history
	}
	s.jobs[job.Name] = state
	return nil
}

// Start runs the ticker loop until Stop or context cancellation.
// Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	count := len(s.jobs)
	s.mu.Unlock()

	slog.Info("cron scheduler started", "jobs", count)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.runDue(runCtx)
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for in-flight firings up to the
// context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires every due job immediately and returns the count.
// Primarily for tests.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*jobState
	for _, state := range s.jobs {
		if !state.nextRun.After(now) {
			due = append(due, state)
			next, err := gronx.NextTickAfter(state.job.Expr, now, false)
			if err != nil {
				slog.Error("cron next-run computation failed",
					"job", state.job.Name, "error", err)
				continue
			}
			state.nextRun = next
			state.job.NextRun = &next
		}
	}
	s.mu.Unlock()

	for _, state := range due {
		s.wg.Add(1)
		go func(st *jobState) {
			defer s.wg.Done()
			s.fire(ctx, st, now)
		}(state)
	}
	return len(due)
}

// RunJob fires a job by name immediately.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	state, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cron job %q not found", name)
	}
	s.fire(ctx, state, s.now())
	return nil
}

func (s *Scheduler) fire(ctx context.Context, state *jobState, startedAt time.Time) {
	s.mu.Lock()
	job := state.job
	s.mu.Unlock()
	slog.Info("cron job firing", "job", job.Name, "recipe", job.Recipe)

	result, err := s.handler(ctx, job)
	duration := s.now().Sub(startedAt)

	exec := Execution{
		JobName:   job.Name,
		AgentID:   job.AgentID,
		StartedAt: startedAt,
		Duration:  duration,
		Status:    "ok",
		Result:    result,
	}
	if err != nil {
		exec.Status = "failed"
		exec.Error = err.Error()
		slog.Error("cron job failed", "job", job.Name, "error", err)
	}
	state.history.add(exec)

	s.mu.Lock()
	state.job.LastRun = &startedAt
	persisted := state.job
	s.mu.Unlock()

	if s.cronStore != nil {
		run := store.CronRun{
			JobName:    job.Name,
			AgentID:    job.AgentID,
			StartedAt:  startedAt,
			DurationMS: duration.Milliseconds(),
			Status:     exec.Status,
			Result:     firstNonEmpty(exec.Error, result),
		}
		if err := s.cronStore.AppendRun(ctx, run); err != nil {
			slog.Warn("cron run log append failed", "job", job.Name, "error", err)
		}
		if err := s.cronStore.SaveJob(ctx, persisted); err != nil {
			slog.Warn("cron job persist failed", "job", job.Name, "error", err)
		}
	}
}

// Jobs returns a snapshot of the scheduled jobs, next runs included.
func (s *Scheduler) Jobs() []store.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.CronJob, 0, len(s.jobs))
	for _, state := range s.jobs {
		out = append(out, state.job)
	}
	return out
}

// History returns a job's recent executions, oldest first.
func (s *Scheduler) History(name string) []Execution {
	s.mu.Lock()
	state, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return state.history.snapshot()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
