// Package scheduler registers and cancels the recurring triggers that start
// curation runs.
package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// RunFunc starts one curation run for a config.
type RunFunc func(ctx context.Context, configID string) error

// Job is one recurring trigger.
type Job struct {
	ID        string
	ConfigID  string
	Interval  time.Duration
	NextRunAt time.Time
}

// Validate checks that the job can be scheduled.
func (j Job) Validate() error {
	if j.ID == "" || j.ConfigID == "" {
		return eris.New("scheduler: job id and config id are required")
	}
	if j.Interval <= 0 {
		return eris.Errorf("scheduler: job %s has non-positive interval %s", j.ID, j.Interval)
	}
	return nil
}

// Scheduler is the trigger backend. Scheduling a job id that already exists
// replaces it, so there is at most one trigger per config.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
	Cancel(ctx context.Context, jobID string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// JobID returns the trigger id for a config.
func JobID(configID string) string {
	return "sv_config_" + configID
}
