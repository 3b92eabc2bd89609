package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// Activities hosts the curation run as a Temporal activity.
type Activities struct {
	Run RunFunc
}

// RunScan executes one curation run.
func (a *Activities) RunScan(ctx context.Context, configID string) error {
	return a.Run(ctx, configID)
}

// WorkflowOptions bounds the activity started by ScanWorkflow.
type WorkflowOptions struct {
	RunTimeout time.Duration
}

// ScanWorkflow runs one curation activity. The run does its own failure
// accounting, so the activity is attempted once.
func ScanWorkflow(ctx workflow.Context, configID string, opts WorkflowOptions) error {
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout + time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var a *Activities
	return workflow.ExecuteActivity(ctx, a.RunScan, configID).Get(ctx, nil)
}

// TemporalScheduler registers triggers as Temporal schedules with overlap
// policy SKIP and runs the worker that executes them.
type TemporalScheduler struct {
	client    client.Client
	taskQueue string
	opts      WorkflowOptions
	run       RunFunc
	worker    worker.Worker
}

// NewTemporal creates a TemporalScheduler on an existing client.
func NewTemporal(c client.Client, taskQueue string, opts WorkflowOptions, run RunFunc) *TemporalScheduler {
	return &TemporalScheduler{client: c, taskQueue: taskQueue, opts: opts, run: run}
}

// scheduleOptions builds the Temporal schedule for job. The interval offset
// puts one fire exactly on NextRunAt.
func (s *TemporalScheduler) scheduleOptions(job Job) client.ScheduleOptions {
	offset := time.Duration(job.NextRunAt.UnixNano() % int64(job.Interval))
	if offset < 0 {
		offset += job.Interval
	}
	return client.ScheduleOptions{
		ID: job.ID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: job.Interval, Offset: offset}},
			StartAt:   job.NextRunAt.Add(-time.Second),
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "wf_" + job.ID,
			Workflow:  ScanWorkflow,
			Args:      []any{job.ConfigID, s.opts},
			TaskQueue: s.taskQueue,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	}
}

// Schedule creates the schedule, replacing any existing one with the same id.
func (s *TemporalScheduler) Schedule(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	sc := s.client.ScheduleClient()
	_, err := sc.Create(ctx, s.scheduleOptions(job))
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		if delErr := s.Cancel(ctx, job.ID); delErr != nil {
			return delErr
		}
		_, err = sc.Create(ctx, s.scheduleOptions(job))
	}
	if err != nil {
		return eris.Wrapf(err, "scheduler: create temporal schedule %s", job.ID)
	}

	zap.L().Info("scheduler: temporal schedule created",
		zap.String("job_id", job.ID),
		zap.Time("next_run_at", job.NextRunAt),
		zap.Duration("interval", job.Interval),
	)
	return nil
}

// Cancel deletes the schedule. A missing schedule is not an error.
func (s *TemporalScheduler) Cancel(ctx context.Context, jobID string) error {
	err := s.client.ScheduleClient().GetHandle(ctx, jobID).Delete(ctx)
	var notFound *serviceerror.NotFound
	if err != nil && !errors.As(err, &notFound) {
		return eris.Wrapf(err, "scheduler: delete temporal schedule %s", jobID)
	}
	return nil
}

// Start registers the workflow and activity and starts the worker.
func (s *TemporalScheduler) Start(_ context.Context) error {
	w := worker.New(s.client, s.taskQueue, worker.Options{})
	w.RegisterWorkflow(ScanWorkflow)
	w.RegisterActivity(&Activities{Run: s.run})
	if err := w.Start(); err != nil {
		return eris.Wrap(err, "scheduler: start temporal worker")
	}
	s.worker = w
	return nil
}

// Stop stops the worker.
func (s *TemporalScheduler) Stop(_ context.Context) error {
	if s.worker != nil {
		s.worker.Stop()
	}
	return nil
}
