package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "sv_config_abc", JobID("abc"))
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Job{ID: "j", ConfigID: "c", Interval: time.Hour}.Validate())
	assert.Error(t, Job{ConfigID: "c", Interval: time.Hour}.Validate())
	assert.Error(t, Job{ID: "j", ConfigID: "c"}.Validate())
}

func TestIntervalSchedule_Next(t *testing.T) {
	t.Parallel()

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := intervalSchedule{first: first, every: 12 * time.Hour}

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"before first fire", first.Add(-time.Hour), first},
		{"at first fire", first, first.Add(12 * time.Hour)},
		{"between fires", first.Add(13 * time.Hour), first.Add(24 * time.Hour)},
		{"many intervals later", first.Add(100 * time.Hour), first.Add(108 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, s.Next(tt.at))
		})
	}
}

func TestNextFire(t *testing.T) {
	t.Parallel()

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// A run that started late and finished minutes after its fire stays on
	// the grid instead of drifting to finish+interval.
	late := first.Add(12*time.Hour + 7*time.Minute)
	assert.Equal(t, first.Add(24*time.Hour), NextFire(first, 12*time.Hour, late))
	assert.Equal(t, first, NextFire(first, 12*time.Hour, first.Add(-time.Minute)))
	assert.Equal(t, late, NextFire(first, 0, late))
}

func TestCronScheduler_ScheduleReplaceCancel(t *testing.T) {
	t.Parallel()

	s := NewCron(func(context.Context, string) error { return nil })
	ctx := context.Background()
	first := time.Now().Add(time.Hour)

	require.NoError(t, s.Schedule(ctx, Job{ID: JobID("c1"), ConfigID: "c1", Interval: 12 * time.Hour, NextRunAt: first}))
	assert.True(t, s.Has(JobID("c1")))
	next, ok := s.NextRun(JobID("c1"))
	require.True(t, ok)
	assert.WithinDuration(t, first, next, time.Second)

	later := first.Add(5 * time.Hour)
	require.NoError(t, s.Schedule(ctx, Job{ID: JobID("c1"), ConfigID: "c1", Interval: 12 * time.Hour, NextRunAt: later}))
	assert.Len(t, s.cron.Entries(), 1, "rescheduling replaces the trigger")
	next, _ = s.NextRun(JobID("c1"))
	assert.WithinDuration(t, later, next, time.Second)

	require.NoError(t, s.Cancel(ctx, JobID("c1")))
	assert.False(t, s.Has(JobID("c1")))
	assert.Empty(t, s.cron.Entries())
	require.NoError(t, s.Cancel(ctx, "missing"))
}

func TestCronScheduler_Fires(t *testing.T) {
	t.Parallel()

	fired := make(chan string, 1)
	s := NewCron(func(_ context.Context, configID string) error {
		select {
		case fired <- configID:
		default:
		}
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) }) //nolint:errcheck

	require.NoError(t, s.Schedule(context.Background(), Job{
		ID:        JobID("c9"),
		ConfigID:  "c9",
		Interval:  time.Hour,
		NextRunAt: time.Now().Add(50 * time.Millisecond),
	}))

	select {
	case id := <-fired:
		assert.Equal(t, "c9", id)
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}
}

func TestCronScheduler_RejectsInvalidJob(t *testing.T) {
	t.Parallel()

	s := NewCron(func(context.Context, string) error { return nil })
	assert.Error(t, s.Schedule(context.Background(), Job{ID: "x", ConfigID: "c"}))
}
