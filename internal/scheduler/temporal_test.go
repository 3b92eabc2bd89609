package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func TestScanWorkflow_RunsActivity(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	var got string
	env.RegisterActivity(&Activities{Run: func(_ context.Context, configID string) error {
		got = configID
		return nil
	}})

	env.ExecuteWorkflow(ScanWorkflow, "cfg-1", WorkflowOptions{RunTimeout: time.Minute})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, "cfg-1", got)
}

func TestScanWorkflow_ActivityErrorIsNotRetried(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	calls := 0
	env.RegisterActivity(&Activities{Run: func(context.Context, string) error {
		calls++
		return errors.New("scrape failed")
	}})

	env.ExecuteWorkflow(ScanWorkflow, "cfg-1", WorkflowOptions{})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, calls)
}

func TestTemporalScheduler_ScheduleOptions(t *testing.T) {
	t.Parallel()

	s := NewTemporal(nil, "curator", WorkflowOptions{RunTimeout: time.Minute}, nil)
	next := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	opts := s.scheduleOptions(Job{ID: "sv_config_c1", ConfigID: "c1", Interval: 12 * time.Hour, NextRunAt: next})

	assert.Equal(t, "sv_config_c1", opts.ID)
	assert.Equal(t, enumspb.SCHEDULE_OVERLAP_POLICY_SKIP, opts.Overlap)
	require.Len(t, opts.Spec.Intervals, 1)
	iv := opts.Spec.Intervals[0]
	assert.Equal(t, 12*time.Hour, iv.Every)
	assert.Equal(t, 30*time.Minute, iv.Offset)

	action, ok := opts.Action.(*client.ScheduleWorkflowAction)
	require.True(t, ok)
	assert.Equal(t, "curator", action.TaskQueue)
	assert.Equal(t, []any{"c1", WorkflowOptions{RunTimeout: time.Minute}}, action.Args)
}

func TestTemporalScheduler_ScheduleReplacesExisting(t *testing.T) {
	t.Parallel()

	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	h := &mocks.ScheduleHandle{}
	c.On("ScheduleClient").Return(sc)
	sc.On("Create", mock.Anything, mock.Anything).Return(nil, temporal.ErrScheduleAlreadyRunning).Once()
	sc.On("Create", mock.Anything, mock.Anything).Return(h, nil).Once()
	sc.On("GetHandle", mock.Anything, "sv_config_c1").Return(h)
	h.On("Delete", mock.Anything).Return(nil)

	s := NewTemporal(c, "curator", WorkflowOptions{}, nil)
	err := s.Schedule(context.Background(), Job{ID: "sv_config_c1", ConfigID: "c1", Interval: time.Hour, NextRunAt: time.Now()})
	require.NoError(t, err)
	sc.AssertNumberOfCalls(t, "Create", 2)
	h.AssertCalled(t, "Delete", mock.Anything)
}

func TestTemporalScheduler_CancelIgnoresNotFound(t *testing.T) {
	t.Parallel()

	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	h := &mocks.ScheduleHandle{}
	c.On("ScheduleClient").Return(sc)
	sc.On("GetHandle", mock.Anything, "gone").Return(h)
	h.On("Delete", mock.Anything).Return(serviceerror.NewNotFound("schedule not found"))

	s := NewTemporal(c, "curator", WorkflowOptions{}, nil)
	require.NoError(t, s.Cancel(context.Background(), "gone"))
}

func TestTemporalScheduler_CancelError(t *testing.T) {
	t.Parallel()

	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	h := &mocks.ScheduleHandle{}
	c.On("ScheduleClient").Return(sc)
	sc.On("GetHandle", mock.Anything, "x").Return(h)
	h.On("Delete", mock.Anything).Return(errors.New("unavailable"))

	s := NewTemporal(c, "curator", WorkflowOptions{}, nil)
	require.Error(t, s.Cancel(context.Background(), "x"))
}
