package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// intervalSchedule fires once at first, then every interval after it.
type intervalSchedule struct {
	first time.Time
	every time.Duration
}

// Next implements cron.Schedule.
func (s intervalSchedule) Next(t time.Time) time.Time {
	return NextFire(s.first, s.every, t)
}

// NextFire returns the first fire strictly after t on the grid
// first + k*every. Fires before first do not exist, so any t before first
// yields first.
func NextFire(first time.Time, every time.Duration, t time.Time) time.Time {
	if t.Before(first) {
		return first
	}
	if every <= 0 {
		return t
	}
	n := t.Sub(first)/every + 1
	return first.Add(n * every)
}

// CronScheduler runs triggers in-process on robfig/cron.
type CronScheduler struct {
	cron    *cron.Cron
	run     RunFunc
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCron creates a CronScheduler. Overlapping fires of the same job are
// skipped.
func NewCron(run RunFunc) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{}))),
		run:     run,
		baseCtx: ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Schedule registers or replaces job.
func (s *CronScheduler) Schedule(_ context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.ID]; ok {
		s.cron.Remove(id)
	}

	configID := job.ConfigID
	jobID := job.ID
	entry := s.cron.Schedule(intervalSchedule{first: job.NextRunAt, every: job.Interval}, cron.FuncJob(func() {
		zap.L().Info("scheduler: trigger fired", zap.String("job_id", jobID), zap.String("config_id", configID))
		if err := s.run(s.baseCtx, configID); err != nil {
			zap.L().Warn("scheduler: run returned error",
				zap.String("job_id", jobID),
				zap.String("config_id", configID),
				zap.Error(err),
			)
		}
	}))
	s.entries[job.ID] = entry

	zap.L().Info("scheduler: job scheduled",
		zap.String("job_id", job.ID),
		zap.Time("next_run_at", job.NextRunAt),
		zap.Duration("interval", job.Interval),
	)
	return nil
}

// Cancel removes a job. Unknown ids are ignored.
func (s *CronScheduler) Cancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[jobID]; ok {
		s.cron.Remove(id)
		delete(s.entries, jobID)
		zap.L().Info("scheduler: job cancelled", zap.String("job_id", jobID))
	}
	return nil
}

// Start begins firing triggers.
func (s *CronScheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (s *CronScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.cancel()
	return nil
}

// Has reports whether jobID is registered.
func (s *CronScheduler) Has(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

// NextRun returns the next fire time of jobID.
func (s *CronScheduler) NextRun(jobID string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.Next.IsZero() {
		return e.Schedule.Next(time.Now()), true
	}
	return e.Next, true
}

// cronLogger routes cron's internal logs to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
